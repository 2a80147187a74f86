package rolequeue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flor3z/bloodgod-bot/internal/metrics"
	"github.com/flor3z/bloodgod-bot/internal/platform"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	calls   chan Task
	failFor map[string]bool // role IDs whose mutation fails
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{calls: make(chan Task, 64), failFor: map[string]bool{}}
}

func (f *fakeExecutor) MutateRole(_ context.Context, guildID, userID, roleID string, op platform.RoleOp, reason string) error {
	f.calls <- Task{GuildID: guildID, UserID: userID, RoleID: roleID, Op: op, Reason: reason}
	if f.failFor[roleID] {
		return errors.New("missing permissions")
	}
	return nil
}

func receive(t *testing.T, ch <-chan Task) Task {
	t.Helper()
	select {
	case task := <-ch:
		return task
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for role mutation")
		return Task{}
	}
}

func assertIdle(t *testing.T, ch <-chan Task) {
	t.Helper()
	select {
	case task := <-ch:
		t.Fatalf("unexpected mutation before pacing elapsed: %+v", task)
	case <-time.After(50 * time.Millisecond):
	}
}

func task(role string, op platform.RoleOp) Task {
	return Task{GuildID: "1", UserID: "100", RoleID: role, Op: op, Reason: "test"}
}

func TestQueue_PacesTasksOneAtATime(t *testing.T) {
	clock := clockwork.NewFakeClock()
	exec := newFakeExecutor()
	q := New(exec, clock, DefaultPacing)

	q.Enqueue(task("10", platform.RoleRemove))
	q.Enqueue(task("20", platform.RoleRemove))
	q.Enqueue(task("mute", platform.RoleAdd))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	assert.Equal(t, "10", receive(t, exec.calls).RoleID)

	for _, want := range []string{"20", "mute"} {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		clock.Advance(DefaultPacing - time.Millisecond)
		assertIdle(t, exec.calls)

		clock.Advance(time.Millisecond)
		assert.Equal(t, want, receive(t, exec.calls).RoleID)
	}

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_FailureDoesNotBlockLaterTasks(t *testing.T) {
	clock := clockwork.NewFakeClock()
	exec := newFakeExecutor()
	exec.failFor["10"] = true
	q := New(exec, clock, DefaultPacing)

	failedBefore := testutil.ToFloat64(metrics.RoleMutationsTotal.WithLabelValues("remove", "error"))

	q.Enqueue(task("10", platform.RoleRemove))
	q.Enqueue(task("20", platform.RoleRemove))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	assert.Equal(t, "10", receive(t, exec.calls).RoleID)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultPacing)
	assert.Equal(t, "20", receive(t, exec.calls).RoleID)

	// the failed task is dropped, never retried
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultPacing)
	assertIdle(t, exec.calls)

	assert.Equal(t, failedBefore+1, testutil.ToFloat64(metrics.RoleMutationsTotal.WithLabelValues("remove", "error")))
}

func TestQueue_WakesOnLateEnqueue(t *testing.T) {
	clock := clockwork.NewFakeClock()
	exec := newFakeExecutor()
	q := New(exec, clock, DefaultPacing)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	assertIdle(t, exec.calls)
	q.Enqueue(task("10", platform.RoleAdd))
	assert.Equal(t, "10", receive(t, exec.calls).RoleID)
}

func TestQueue_DepthGaugeMatchesPending(t *testing.T) {
	q := New(newFakeExecutor(), clockwork.NewFakeClock(), DefaultPacing)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(task(fmt.Sprint(i), platform.RoleAdd))
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, q.Len())
	assert.Equal(t, 20.0, testutil.ToFloat64(metrics.RoleQueueDepth))
}

func TestQueue_StopsOnContextCancel(t *testing.T) {
	clock := clockwork.NewFakeClock()
	q := New(newFakeExecutor(), clock, DefaultPacing)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestQueue_ConcurrentProducersKeepTheirOrder(t *testing.T) {
	q := New(newFakeExecutor(), clockwork.NewFakeClock(), DefaultPacing)

	const producers, perProducer = 8, 25
	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(Task{UserID: fmt.Sprint(p), RoleID: fmt.Sprint(i)})
			}
		}(p)
	}
	wg.Wait()

	require.Equal(t, producers*perProducer, q.Len())

	next := make(map[string]int)
	for _, task := range q.pending {
		assert.Equal(t, fmt.Sprint(next[task.UserID]), task.RoleID, "producer %s out of order", task.UserID)
		next[task.UserID]++
	}
}
