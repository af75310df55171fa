package services

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/slicebot/slicebot-backend/internal/models"
)

// identityLock is a one-slot semaphore shared by the dispatches of one user
type identityLock struct {
	slot chan struct{}
	refs int
}

// SessionManager serializes dispatches per user identity. Different users
// never wait on each other.
type SessionManager struct {
	mu         sync.Mutex
	locks      map[models.UserIdentity]*identityLock
	lastActive map[models.UserIdentity]time.Time
	inFlight   atomic.Int64
	sessionTTL time.Duration
	now        func() time.Time
}

// NewSessionManager creates a new session manager
func NewSessionManager() *SessionManager {
	return &SessionManager{
		locks:      make(map[models.UserIdentity]*identityLock),
		lastActive: make(map[models.UserIdentity]time.Time),
		sessionTTL: 30 * time.Minute, // activity window for stats
		now:        time.Now,
	}
}

// Acquire blocks until the caller owns the identity or ctx is done.
// The returned release must be called exactly once.
func (sm *SessionManager) Acquire(ctx context.Context, id models.UserIdentity) (release func(), err error) {
	sm.mu.Lock()
	l, ok := sm.locks[id]
	if !ok {
		l = &identityLock{slot: make(chan struct{}, 1)}
		sm.locks[id] = l
	}
	l.refs++
	sm.mu.Unlock()

	select {
	case l.slot <- struct{}{}:
	case <-ctx.Done():
		sm.unref(id, l)
		return nil, ctx.Err()
	}

	sm.inFlight.Add(1)
	sm.touch(id)

	var once sync.Once
	return func() {
		once.Do(func() {
			sm.inFlight.Add(-1)
			<-l.slot
			sm.unref(id, l)
		})
	}, nil
}

func (sm *SessionManager) unref(id models.UserIdentity, l *identityLock) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(sm.locks, id)
	}
}

func (sm *SessionManager) touch(id models.UserIdentity) {
	sm.mu.Lock()
	sm.lastActive[id] = sm.now()
	sm.mu.Unlock()
}

// SessionStats provides session statistics
type SessionStats struct {
	ActiveSessions    int            `json:"active_sessions"`
	InFlight          int64          `json:"in_flight"`
	Waiting           int            `json:"waiting"`
	SessionsByChannel map[string]int `json:"sessions_by_channel"`
}

// GetSessionStats returns current session statistics
func (sm *SessionManager) GetSessionStats() *SessionStats {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	stats := &SessionStats{
		InFlight:          sm.inFlight.Load(),
		SessionsByChannel: make(map[string]int),
	}

	cutoff := sm.now().Add(-sm.sessionTTL)
	for id, seen := range sm.lastActive {
		if seen.After(cutoff) {
			stats.ActiveSessions++
			stats.SessionsByChannel[id.Channel()]++
		}
	}
	for _, l := range sm.locks {
		if l.refs > 1 {
			stats.Waiting += l.refs - 1
		}
	}
	return stats
}

// Run prunes idle activity records until ctx is done
func (sm *SessionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sm.pruneIdle(); n > 0 {
				slog.Debug("pruned idle sessions", "count", n)
			}
		}
	}
}

func (sm *SessionManager) pruneIdle() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	cutoff := sm.now().Add(-sm.sessionTTL)
	pruned := 0
	for id, seen := range sm.lastActive {
		if seen.Before(cutoff) {
			delete(sm.lastActive, id)
			pruned++
		}
	}
	return pruned
}
