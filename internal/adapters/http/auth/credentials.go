package auth

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/okian/livescore/internal/domain/model"
	"github.com/okian/livescore/pkg/logger"
	"github.com/okian/livescore/pkg/metrics"
)

// Credential is one key's shared secret and optional callsign allow-list.
type Credential struct {
	KeyID     string
	Secret    string
	Callsigns map[string]bool // empty allows every callsign
}

// Allows reports whether the key may submit for call. Portable suffixes are ignored.
func (c Credential) Allows(call string) bool {
	if len(c.Callsigns) == 0 {
		return true
	}
	call = strings.ToUpper(strings.TrimSpace(call))
	return c.Callsigns[call] || c.Callsigns[model.BaseCallsign(call)]
}

// credentialFile is the YAML layout:
//
//	keys:
//	  station-a: s3cret
//	  club-b:
//	    secret: other
//	    callsigns: [K1ABC, W2XYZ]
type credentialFile struct {
	Keys map[string]credentialEntry `yaml:"keys"`
}

type credentialEntry struct {
	Secret    string   `yaml:"secret"`
	Callsigns []string `yaml:"callsigns"`
}

func (e *credentialEntry) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		e.Secret = n.Value
		return nil
	}
	type plain credentialEntry
	return n.Decode((*plain)(e))
}

// CredentialStore holds the key table loaded from a restricted file and
// reloads it when the file's modification time advances.
type CredentialStore struct {
	path string
	log  logger.Logger

	mu      sync.Mutex
	modTime time.Time
	keys    map[string]Credential
}

// LoadCredentials reads the file at path. A missing file or one accessible by
// group or others is an error.
func LoadCredentials(path string) (*CredentialStore, error) {
	s := &CredentialStore{
		path: path,
		log:  logger.Named("credentials"),
	}
	keys, mod, err := readCredentials(path)
	if err != nil {
		return nil, err
	}
	s.keys, s.modTime = keys, mod
	metrics.RecordCredentialReload("loaded", len(keys))
	return s, nil
}

// Path returns the credential file path.
func (s *CredentialStore) Path() string { return s.path }

// Lookup returns the credential for keyID, reloading first if the file changed.
func (s *CredentialStore) Lookup(keyID string) (Credential, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshLocked(context.Background())
	c, ok := s.keys[keyID]
	return c, ok
}

// Len returns the number of loaded keys.
func (s *CredentialStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

// Refresh reloads the file if its modification time advanced. A failed
// reload keeps the previous keys and returns the error.
func (s *CredentialStore) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshLocked(ctx)
}

func (s *CredentialStore) refreshLocked(ctx context.Context) error {
	info, err := os.Stat(s.path)
	if err != nil {
		s.log.Error(ctx, "credential file unavailable, keeping previous keys", logger.Error(err))
		metrics.RecordCredentialReload("failed", len(s.keys))
		return fmt.Errorf("%w: %w", ErrCredentialsMissing, err)
	}
	if !info.ModTime().After(s.modTime) {
		return nil
	}

	keys, mod, err := readCredentials(s.path)
	if err != nil {
		// Remember the attempt so a broken file is not re-read on every request.
		s.modTime = info.ModTime()
		s.log.Error(ctx, "credential reload failed, keeping previous keys", logger.Error(err))
		metrics.RecordCredentialReload("failed", len(s.keys))
		return err
	}
	s.keys, s.modTime = keys, mod
	s.log.Info(ctx, "credentials reloaded", logger.Int("keys", len(keys)))
	metrics.RecordCredentialReload("reloaded", len(keys))
	return nil
}

func readCredentials(path string) (map[string]Credential, time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, time.Time{}, fmt.Errorf("%w: %s", ErrCredentialsMissing, path)
		}
		return nil, time.Time{}, fmt.Errorf("stat credentials: %w", err)
	}
	if info.Mode().Perm()&0o077 != 0 {
		return nil, time.Time{}, fmt.Errorf("%w: %s has mode %04o", ErrCredentialsExposed, path, info.Mode().Perm())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("read credentials: %w", err)
	}
	var file credentialFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, time.Time{}, fmt.Errorf("%w: %w", ErrCredentialsInvalid, err)
	}

	keys := make(map[string]Credential, len(file.Keys))
	for id, e := range file.Keys {
		if strings.TrimSpace(id) == "" || e.Secret == "" {
			return nil, time.Time{}, fmt.Errorf("%w: key %q has no secret", ErrCredentialsInvalid, id)
		}
		c := Credential{KeyID: id, Secret: e.Secret}
		if len(e.Callsigns) > 0 {
			c.Callsigns = make(map[string]bool, len(e.Callsigns))
			for _, call := range e.Callsigns {
				c.Callsigns[strings.ToUpper(strings.TrimSpace(call))] = true
			}
		}
		keys[id] = c
	}
	return keys, info.ModTime(), nil
}
