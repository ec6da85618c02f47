package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/okian/livescore/internal/adapters/http/auth"
	"github.com/okian/livescore/internal/adapters/mq/queue"
	"github.com/okian/livescore/internal/domain/livexml"
	"github.com/okian/livescore/pkg/logger"
	"github.com/okian/livescore/pkg/metrics"
)

// acceptedBody is what logging clients expect on success.
const acceptedBody = "OK-Full"

// handleLivescore handles POST /livescore. Accepted documents are queued as
// sanitized text; persistence happens in the aggregator.
func (s *Server) handleLivescore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	keyID := r.Header.Get(auth.HeaderKey)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.limits.MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.reject(ctx, w, keyID, http.StatusRequestEntityTooLarge, "payload_too_large", ErrPayloadTooLarge)
			return
		}
		s.reject(ctx, w, keyID, http.StatusBadRequest, "read_failed", fmt.Errorf("%w: %w", ErrBadRequest, err))
		return
	}

	cred, err := s.deps.Verifier.VerifyRequest(r)
	if err != nil {
		s.reject(ctx, w, keyID, http.StatusUnauthorized, "unauthorized", fmt.Errorf("%w: %w", ErrUnauthorized, err))
		return
	}

	if d := s.deps.Limiter.Allow(cred.KeyID, s.now()); !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
		s.reject(ctx, w, cred.KeyID, http.StatusTooManyRequests, "rate_limited",
			fmt.Errorf("%w: %s limit reached", ErrRateLimited, d.Window))
		return
	}

	docs, invalid := s.documents(ctx, cred.KeyID, body)
	if invalid > 0 {
		metrics.RecordDocumentInvalid(invalid)
	}
	if len(docs) == 0 {
		s.reject(ctx, w, cred.KeyID, http.StatusBadRequest, "invalid_payload",
			fmt.Errorf("%w: no valid livescore document", ErrBadRequest))
		return
	}

	allowed := docs[:0]
	for _, doc := range docs {
		if call := livexml.Callsign(doc); !cred.Allows(call) {
			s.log.Warn(ctx, "callsign not allowed for key",
				logger.String("key_id", cred.KeyID),
				logger.String("callsign", call),
			)
			continue
		}
		allowed = append(allowed, doc)
	}
	if len(allowed) == 0 {
		s.reject(ctx, w, cred.KeyID, http.StatusForbidden, "forbidden",
			fmt.Errorf("%w: callsign not allowed for key", ErrForbidden))
		return
	}

	received := s.now().UTC()
	for i, doc := range allowed {
		if !s.deps.Queue.Enqueue(ctx, queue.Item{Doc: doc, KeyID: cred.KeyID, Received: received}) {
			// Documents already queued stay queued; a resubmission is absorbed by the store.
			if i > 0 {
				metrics.RecordSubmissionAccepted(i)
			}
			s.reject(ctx, w, cred.KeyID, http.StatusTooManyRequests, "backpressure", ErrBackpressure)
			return
		}
	}
	metrics.RecordSubmissionAccepted(len(allowed))
	s.log.Debug(ctx, "submission accepted",
		logger.String("key_id", cred.KeyID),
		logger.Int("documents", len(allowed)),
	)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, acceptedBody)
}

// documents decodes the body and returns the sanitized documents that carry
// every mandatory field, plus the count that did not.
func (s *Server) documents(ctx context.Context, keyID string, body []byte) ([]string, int) {
	raw := livexml.Extract(livexml.Decode(body), s.limits.MaxDocuments)
	docs := make([]string, 0, len(raw))
	invalid := 0
	for i, doc := range raw {
		doc = livexml.Sanitize(doc)
		if err := livexml.Validate(doc); err != nil {
			invalid++
			s.log.Info(ctx, "document rejected",
				logger.String("key_id", keyID),
				logger.Int("document", i),
				logger.Error(err),
			)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, invalid
}

// reject logs the refusal with the key identifier and writes the error response.
func (s *Server) reject(ctx context.Context, w http.ResponseWriter, keyID string, status int, reason string, err error) {
	s.log.Warn(ctx, "submission rejected",
		logger.String("key_id", keyID),
		logger.String("reason", reason),
		logger.Int("status", status),
		logger.Error(err),
	)
	metrics.RecordSubmissionRejected(reason)
	writeError(w, status, err)
}
