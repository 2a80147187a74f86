// Package rolequeue serializes role mutations through a single paced worker.
//
// Discord rate-limits role edits per guild, so mutations are never issued in
// parallel. Tasks run in global FIFO order, which also keeps the per-member
// sequence (strip, restore, reward) in the order it was submitted.
//
// A failing task is logged and dropped. It is not retried and it does not
// stop later tasks; callers of Enqueue never learn about execution failures.
package rolequeue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/flor3z/bloodgod-bot/internal/metrics"
	"github.com/flor3z/bloodgod-bot/internal/platform"
	"github.com/jonboulle/clockwork"
)

// DefaultPacing is the pause between two consecutive mutations
const DefaultPacing = 500 * time.Millisecond

// Task is one queued role mutation
type Task struct {
	GuildID string
	UserID  string
	RoleID  string
	Op      platform.RoleOp
	Reason  string
}

// Executor applies a role mutation on the platform
type Executor interface {
	MutateRole(ctx context.Context, guildID, userID, roleID string, op platform.RoleOp, reason string) error
}

// Queue is an unbounded FIFO of role mutations with a single consumer
type Queue struct {
	exec   Executor
	clock  clockwork.Clock
	pacing time.Duration

	mu      sync.Mutex
	pending []Task
	wake    chan struct{}
}

// New creates a Queue. Run must be started for tasks to execute.
func New(exec Executor, clock clockwork.Clock, pacing time.Duration) *Queue {
	return &Queue{
		exec:   exec,
		clock:  clock,
		pacing: pacing,
		wake:   make(chan struct{}, 1),
	}
}

// Enqueue appends a task to the tail. It never blocks.
func (q *Queue) Enqueue(task Task) {
	q.mu.Lock()
	q.pending = append(q.pending, task)
	metrics.RoleQueueDepth.Set(float64(len(q.pending)))
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of tasks waiting to run
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run executes tasks one at a time until ctx is cancelled
func (q *Queue) Run(ctx context.Context) {
	slog.Info("Starting role queue worker", "pacing", q.pacing)

	for {
		task, ok := q.next()
		if !ok {
			select {
			case <-ctx.Done():
				slog.Info("Role queue worker stopped")
				return
			case <-q.wake:
				continue
			}
		}

		q.execute(ctx, task)

		select {
		case <-ctx.Done():
			slog.Info("Role queue worker stopped", "pending", q.Len())
			return
		case <-q.clock.After(q.pacing):
		}
	}
}

func (q *Queue) next() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return Task{}, false
	}
	task := q.pending[0]
	q.pending[0] = Task{}
	q.pending = q.pending[1:]
	metrics.RoleQueueDepth.Set(float64(len(q.pending)))
	return task, true
}

// execute runs one task; failures are contained here
func (q *Queue) execute(ctx context.Context, task Task) {
	err := q.exec.MutateRole(ctx, task.GuildID, task.UserID, task.RoleID, task.Op, task.Reason)
	if err != nil {
		metrics.RoleMutationsTotal.WithLabelValues(task.Op.String(), "error").Inc()
		slog.Error("Role mutation failed, dropping task",
			"op", task.Op,
			"user", task.UserID,
			"role", task.RoleID,
			"error", err)
		return
	}

	metrics.RoleMutationsTotal.WithLabelValues(task.Op.String(), "success").Inc()
	slog.Debug("Role mutation applied", "op", task.Op, "user", task.UserID, "role", task.RoleID)
}
