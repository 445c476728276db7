package grpcbridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/HatiCode/solpivot/pkg/query"
)

// Relay is a Backend that forwards every call to an upstream query.Opener,
// typically an HTTP bridge. Upstream records that fail to decode are logged
// and dropped.
type Relay struct {
	upstream query.Opener
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]query.Session
}

// NewRelay creates a relay in front of upstream.
func NewRelay(upstream query.Opener, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		upstream: upstream,
		logger:   logger,
		sessions: make(map[string]query.Session),
	}
}

// OpenSession opens an upstream session for archive and returns its relay id.
func (r *Relay) OpenSession(ctx context.Context, archive string) (string, error) {
	s, err := r.upstream.Open(ctx, archive)
	if err != nil {
		return "", status.Error(codes.Unavailable, err.Error())
	}
	id := uuid.NewString()
	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()
	r.logger.Debug("relay session opened", "session", id, "archive", archive)
	return id, nil
}

// Query runs req on the upstream session and re-encodes the decoded rows as records.
func (r *Relay) Query(ctx context.Context, sessionID string, req query.Request) ([]map[string]any, error) {
	s, err := r.session(sessionID)
	if err != nil {
		return nil, err
	}
	res, err := s.Query(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, status.FromContextError(ctx.Err()).Err()
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	for _, rej := range res.Rejected {
		r.logger.Warn("relay dropped record", "session", sessionID, "error", rej)
	}
	out := make([]map[string]any, len(res.Rows))
	for i, row := range res.Rows {
		out[i] = map[string]any{
			query.FieldCategory:  row.Category,
			query.FieldChild:     row.Child,
			query.FieldTimestamp: row.Timestamp,
			query.FieldValue:     row.Value,
		}
	}
	return out, nil
}

// CloseSession closes and forgets the upstream session.
func (r *Relay) CloseSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	s, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)
	r.mu.Unlock()
	if !ok {
		return status.Errorf(codes.NotFound, "unknown session %q", sessionID)
	}
	if err := s.Close(); err != nil {
		r.logger.Warn("relay session close failed", "session", sessionID, "error", err)
	}
	return nil
}

// Open reports the number of sessions not yet closed.
func (r *Relay) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Shutdown closes every remaining upstream session.
func (r *Relay) Shutdown() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]query.Session)
	r.mu.Unlock()
	for id, s := range sessions {
		if err := s.Close(); err != nil {
			r.logger.Warn("relay session close failed", "session", id, "error", err)
		}
	}
}

func (r *Relay) session(id string) (query.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "unknown session %q", id)
	}
	return s, nil
}
