// Package presence tracks which viewers are currently watching a live session.
// It is the source of truth for viewer counts; the store is a best-effort
// mirror kept for durability and cross-instance reads.
package presence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store persists viewer counters. Writes are best-effort: a failed write is
// returned to the caller for logging/retry but never invalidates the
// in-memory state.
type Store interface {
	SetViewerCount(ctx context.Context, sessionID uuid.UUID, count int) error
	IncrementTotalViewers(ctx context.Context, sessionID uuid.UUID) (int, error)
	ViewerCounts(ctx context.Context, sessionID uuid.UUID) (current, total int, err error)
}

// ChangeHandler is called after every successful Join/Leave so viewer-count
// driven ranking stays current without a polling job.
type ChangeHandler func(sessionID uuid.UUID, current, total int)

// Stats is the viewer count snapshot for a session.
type Stats struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type entry struct {
	lastSeen time.Time
	timer    *time.Timer
}

type sessionViewers struct {
	mu      sync.Mutex
	viewers map[uuid.UUID]*entry
	total   int
}

// Tracker maintains per-session viewer sets with cancelable inactivity timers.
// Mutations are serialized per session; sessions proceed in parallel.
type Tracker struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*sessionViewers

	ttl      time.Duration
	store    Store
	onChange ChangeHandler
	logger   *zap.Logger
}

// NewTracker creates a presence tracker. ttl is the inactivity window after
// which a silent viewer is evicted.
func NewTracker(store Store, ttl time.Duration, logger *zap.Logger) *Tracker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		sessions: make(map[uuid.UUID]*sessionViewers),
		ttl:      ttl,
		store:    store,
		logger:   logger,
	}
}

// SetChangeHandler wires the post-mutation callback. Set once during startup.
func (t *Tracker) SetChangeHandler(fn ChangeHandler) { t.onChange = fn }

func (t *Tracker) session(sessionID uuid.UUID) *sessionViewers {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		s = &sessionViewers{viewers: make(map[uuid.UUID]*entry)}
		t.sessions[sessionID] = s
	}
	return s
}

// Join adds a viewer to a session's audience, or refreshes their last-seen
// when already present. Idempotent: a double join counts once. Returns the
// stats after the join and whether this was the viewer's first join. The
// returned error reports a failed store mirror write; the counts are still
// valid and the caller should log, not fail the viewer.
func (t *Tracker) Join(ctx context.Context, sessionID, viewerID uuid.UUID) (Stats, bool, error) {
	s := t.session(sessionID)

	s.mu.Lock()
	e, existed := s.viewers[viewerID]
	if existed {
		e.lastSeen = time.Now()
		e.timer.Reset(t.ttl)
		stats := Stats{Current: len(s.viewers), Total: s.total}
		s.mu.Unlock()
		return stats, false, nil
	}

	e = &entry{lastSeen: time.Now()}
	e.timer = time.AfterFunc(t.ttl, func() { t.expire(sessionID, viewerID) })
	s.viewers[viewerID] = e
	s.total++
	stats := Stats{Current: len(s.viewers), Total: s.total}
	s.mu.Unlock()

	var storeErr error
	if t.store != nil {
		if err := t.store.SetViewerCount(ctx, sessionID, stats.Current); err != nil {
			storeErr = err
		}
		if total, err := t.store.IncrementTotalViewers(ctx, sessionID); err != nil {
			storeErr = err
		} else if total > stats.Total {
			// another instance saw viewers we did not
			s.mu.Lock()
			s.total = total
			s.mu.Unlock()
			stats.Total = total
		}
	}

	t.notify(sessionID, stats)
	t.logger.Debug("viewer joined",
		zap.String("session_id", sessionID.String()),
		zap.String("viewer_id", viewerID.String()),
		zap.Int("current", stats.Current))
	return stats, true, storeErr
}

// Touch refreshes a viewer's last-seen without changing counts. A no-op when
// the viewer is not present.
func (t *Tracker) Touch(sessionID, viewerID uuid.UUID) {
	s := t.session(sessionID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.viewers[viewerID]; ok {
		e.lastSeen = time.Now()
		e.timer.Reset(t.ttl)
	}
}

// Leave removes a viewer and cancels their inactivity timer. Idempotent:
// leaving while absent is a successful no-op.
func (t *Tracker) Leave(ctx context.Context, sessionID, viewerID uuid.UUID) (Stats, error) {
	s := t.session(sessionID)

	s.mu.Lock()
	e, ok := s.viewers[viewerID]
	if !ok {
		stats := Stats{Current: len(s.viewers), Total: s.total}
		s.mu.Unlock()
		return stats, nil
	}
	e.timer.Stop()
	delete(s.viewers, viewerID)
	stats := Stats{Current: len(s.viewers), Total: s.total}
	s.mu.Unlock()

	var storeErr error
	if t.store != nil {
		storeErr = t.store.SetViewerCount(ctx, sessionID, stats.Current)
	}

	t.notify(sessionID, stats)
	t.logger.Debug("viewer left",
		zap.String("session_id", sessionID.String()),
		zap.String("viewer_id", viewerID.String()),
		zap.Int("current", stats.Current))
	return stats, storeErr
}

// expire runs when a viewer's inactivity timer fires. Membership is
// re-checked under the session lock so a timer canceled by Leave or
// CleanupSession can never remove anyone.
func (t *Tracker) expire(sessionID, viewerID uuid.UUID) {
	s := t.session(sessionID)

	s.mu.Lock()
	e, ok := s.viewers[viewerID]
	if !ok || time.Since(e.lastSeen) < t.ttl {
		s.mu.Unlock()
		return
	}
	delete(s.viewers, viewerID)
	stats := Stats{Current: len(s.viewers), Total: s.total}
	s.mu.Unlock()

	if t.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.store.SetViewerCount(ctx, sessionID, stats.Current); err != nil {
			t.logger.Warn("persist viewer count after expiry", zap.Error(err))
		}
	}

	t.notify(sessionID, stats)
	t.logger.Debug("viewer presence expired",
		zap.String("session_id", sessionID.String()),
		zap.String("viewer_id", viewerID.String()))
}

// Stats returns the current and cumulative viewer counts. Current is the
// maximum of the in-memory live count and the last persisted count, which
// tolerates transient divergence between cache and store.
func (t *Tracker) Stats(ctx context.Context, sessionID uuid.UUID) Stats {
	s := t.session(sessionID)
	s.mu.Lock()
	stats := Stats{Current: len(s.viewers), Total: s.total}
	s.mu.Unlock()

	if t.store != nil {
		if current, total, err := t.store.ViewerCounts(ctx, sessionID); err == nil {
			if current > stats.Current {
				stats.Current = current
			}
			if total > stats.Total {
				stats.Total = total
			}
		}
	}
	return stats
}

// CleanupSession removes every presence entry for a session and cancels all
// its timers atomically with clearing the set, so no late timer can
// re-decrement a count that was already reset.
func (t *Tracker) CleanupSession(ctx context.Context, sessionID uuid.UUID) error {
	t.mu.Lock()
	s, ok := t.sessions[sessionID]
	delete(t.sessions, sessionID)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	s.mu.Lock()
	for _, e := range s.viewers {
		e.timer.Stop()
	}
	s.viewers = make(map[uuid.UUID]*entry)
	s.mu.Unlock()

	var storeErr error
	if t.store != nil {
		storeErr = t.store.SetViewerCount(ctx, sessionID, 0)
	}
	t.logger.Info("session presence cleaned up", zap.String("session_id", sessionID.String()))
	return storeErr
}

func (t *Tracker) notify(sessionID uuid.UUID, stats Stats) {
	if t.onChange != nil {
		t.onChange(sessionID, stats.Current, stats.Total)
	}
}
