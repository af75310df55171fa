// Package jobs runs delayed work outside of a conversation turn.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/slicebot/slicebot-backend/internal/models"
	"github.com/slicebot/slicebot-backend/internal/services"
)

// Deliverer sends instructions to a user on the user's channel
type Deliverer interface {
	Deliver(ctx context.Context, id models.UserIdentity, chatAddress string, instructions []models.Instruction) error
}

// FollowUpJob sends the post-payment follow-up once its delay has passed.
// Each user has at most one pending follow-up; scheduling again replaces it.
type FollowUpJob struct {
	deliverer   Deliverer
	sendTimeout time.Duration

	mu        sync.Mutex
	pending   map[models.UserIdentity]*time.Timer
	isRunning bool
	wg        sync.WaitGroup
}

// NewFollowUpJob creates a follow-up scheduler delivering through d
func NewFollowUpJob(d Deliverer) *FollowUpJob {
	return &FollowUpJob{
		deliverer:   d,
		sendTimeout: 15 * time.Second,
		pending:     make(map[models.UserIdentity]*time.Timer),
		isRunning:   true,
	}
}

// Schedule arranges the follow-up for id after delay
func (j *FollowUpJob) Schedule(id models.UserIdentity, chatAddress string, delay time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.isRunning {
		slog.Warn("follow-up not scheduled, job stopped", "user", id)
		return
	}
	if prev, ok := j.pending[id]; ok && prev.Stop() {
		j.wg.Done()
		slog.Debug("follow-up replaced", "user", id)
	}

	var timer *time.Timer
	j.wg.Add(1)
	timer = time.AfterFunc(delay, func() {
		defer j.wg.Done()
		j.mu.Lock()
		if j.pending[id] == timer {
			delete(j.pending, id)
		}
		j.mu.Unlock()
		j.send(id, chatAddress)
	})
	j.pending[id] = timer
	slog.Info("follow-up scheduled", "user", id, "delay", delay)
}

func (j *FollowUpJob) send(id models.UserIdentity, chatAddress string) {
	ctx, cancel := context.WithTimeout(context.Background(), j.sendTimeout)
	defer cancel()

	msg := models.Instruction{Kind: models.KindSendText, Text: services.FollowUpText}
	if err := j.deliverer.Deliver(ctx, id, chatAddress, []models.Instruction{msg}); err != nil {
		slog.Error("follow-up delivery failed", "user", id, "error", err)
		return
	}
	slog.Info("follow-up sent", "user", id)
}

// Pending reports how many follow-ups are waiting
func (j *FollowUpJob) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.pending)
}

// Stop cancels every pending follow-up and waits for the ones already sending
func (j *FollowUpJob) Stop() {
	j.mu.Lock()
	j.isRunning = false
	for id, timer := range j.pending {
		if timer.Stop() {
			j.wg.Done()
		}
		delete(j.pending, id)
	}
	j.mu.Unlock()

	j.wg.Wait()
	slog.Info("follow-up job stopped")
}
