package main

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/livescore/internal/adapters/http/auth"
)

const submitTimeout = 10 * time.Second

func newSubmitCmd() *cobra.Command {
	var (
		baseURL string
		keyID   string
		secret  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "submit FILE...",
		Short: "Sign and post livescore XML files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, files []string) error {
			client := &http.Client{Timeout: timeout}
			target := strings.TrimRight(baseURL, "/") + "/livescore"
			failed := 0
			for _, path := range files {
				status, body, err := submitFile(cmd, client, target, path, keyID, secret)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d %s\n", path, status, strings.TrimSpace(body))
				if status != http.StatusOK {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d submissions failed", failed, len(files))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:9080", "service base URL")
	cmd.Flags().StringVar(&keyID, "key", "", "key identifier")
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret")
	cmd.Flags().DurationVar(&timeout, "timeout", submitTimeout, "per-request timeout")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("secret")
	return cmd
}

// submitFile posts one file percent-encoded, the way logging clients send it.
func submitFile(cmd *cobra.Command, client *http.Client, target, path, keyID, secret string) (int, string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, "", fmt.Errorf("read: %w", err)
	}
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, target, strings.NewReader(url.QueryEscape(string(raw))))
	if err != nil {
		return 0, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	auth.Sign(req, keyID, secret, time.Now())

	resp, err := client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("post: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.StatusCode, "", fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, string(body), nil
}
