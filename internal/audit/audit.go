// Package audit provides the append-only trail every privileged mutation
// reports to. Writes are best-effort observability: a failed append is
// logged and counted, never surfaced to the caller.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"opsdesk.org/internal/obs"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Entry is an immutable record of who did what to what.
type Entry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id,omitempty"` // empty for system/anonymous events
	Action     string         `json:"action_type"`        // namespaced, e.g. "role.update"
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Filter narrows a Query. Zero values match everything.
type Filter struct {
	Action     string
	ActorID    string
	TargetType string
	From       time.Time
	To         time.Time
	Page       int
	PerPage    int
}

// Store persists entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Search(ctx context.Context, f Filter) ([]Entry, int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Service records and reads audit entries.
type Service struct {
	store Store
	now   func() time.Time
	idgen func() string
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithIDGenerator overrides entry id generation (useful for tests).
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) {
		if fn != nil {
			s.idgen = fn
		}
	}
}

// NewService constructs the recorder.
func NewService(store Store, idgen func() string, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("audit: store is required")
	}
	if idgen == nil {
		return nil, errors.New("audit: id generator is required")
	}
	svc := &Service{store: store, now: time.Now, idgen: idgen}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// Record appends one entry. It never fails the calling operation: persistence
// errors are logged and counted but not returned.
func (s *Service) Record(ctx context.Context, actorID, action, targetType, targetID string, metadata map[string]any) {
	action = strings.TrimSpace(action)
	if action == "" || !strings.Contains(action, ".") {
		obs.LogError("audit entry dropped: malformed action type", map[string]any{
			"action": action,
		})
		obs.AuditWriteFailed()
		return
	}
	entry := &Entry{
		ID:         s.idgen(),
		ActorID:    strings.TrimSpace(actorID),
		Action:     action,
		TargetType: strings.TrimSpace(targetType),
		TargetID:   strings.TrimSpace(targetID),
		Metadata:   metadata,
		CreatedAt:  s.now().UTC(),
	}
	if err := s.store.Append(ctx, entry); err != nil {
		obs.AuditWriteFailed()
		obs.LogError("audit append failed", map[string]any{
			"action":      entry.Action,
			"target_type": entry.TargetType,
			"error":       err.Error(),
		})
	}
}

// Query returns matching entries newest-first along with the total count.
func (s *Service) Query(ctx context.Context, f Filter) ([]Entry, int, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = defaultPageSize
	}
	if f.PerPage > maxPageSize {
		f.PerPage = maxPageSize
	}
	return s.store.Search(ctx, f)
}

// Prune deletes entries older than the given number of days and reports how
// many rows were removed. It has no effect on any other entity.
func (s *Service) Prune(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays <= 0 {
		return 0, fmt.Errorf("audit: retention days must be positive, got %d", olderThanDays)
	}
	cutoff := s.now().UTC().AddDate(0, 0, -olderThanDays)
	return s.store.DeleteBefore(ctx, cutoff)
}
