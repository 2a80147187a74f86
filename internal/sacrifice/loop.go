package sacrifice

import (
	"context"
	"errors"
	"log/slog"
)

// Start launches the announcement loop: wait a random interval, announce,
// wait for that cycle to end, repeat. The loop ends on Stop or when ctx is
// cancelled.
func (m *Machine) Start(ctx context.Context) {
	slog.Info("Starting sacrifice loop", "intervals", m.settings.Intervals, "window", m.settings.Window)

	m.wg.Add(1)
	go m.run(ctx)
}

func (m *Machine) run(ctx context.Context) {
	defer m.wg.Done()

	for {
		wait := m.settings.Intervals[m.pick(len(m.settings.Intervals))]
		slog.Debug("Next sacrifice scheduled", "in", wait)

		select {
		case <-ctx.Done():
			slog.Info("Sacrifice loop stopped (context cancelled)")
			return
		case <-m.stopChan:
			slog.Info("Sacrifice loop stopped")
			return
		case <-m.clock.After(wait):
		}

		// A forced cycle may already be open; wait that one out instead
		if err := m.Announce(ctx); err != nil && !errors.Is(err, ErrCycleActive) {
			slog.Error("Failed to announce sacrifice", "error", err)
		}

		done := m.cycleDone()
		if done == nil {
			continue
		}
		select {
		case <-ctx.Done():
			slog.Info("Sacrifice loop stopped (context cancelled)")
			return
		case <-m.stopChan:
			slog.Info("Sacrifice loop stopped")
			return
		case <-done:
		}
	}
}

// Stop signals the loop to stop and waits for it
func (m *Machine) Stop() {
	close(m.stopChan)
	m.wg.Wait()
}
