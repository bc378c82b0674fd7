package relay

import (
	"context"
	"time"
)

// RunReaper sweeps the registry every ReapEvery until ctx is done.
func (e *Engine) RunReaper(ctx context.Context) {
	ticker := time.NewTicker(e.settings.ReapEvery)
	defer ticker.Stop()
	e.logger.Info("Reaper started, sweeping every %s", e.settings.ReapEvery)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Reaper stopped")
			return
		case <-ticker.C:
			e.Reap(e.now())
		}
	}
}

// Reap enforces the wall-clock ceiling on running agents and unblocks runs
// whose output pipes stay open after the process exited. Finalization stays
// with each run's consumer loop. It returns how many runs it acted on.
func (e *Engine) Reap(now time.Time) int {
	acted := 0
	for _, r := range e.registry.Snapshot() {
		if !r.IsRunning() {
			continue
		}
		proc := r.process()
		if proc == nil {
			continue
		}
		if e.enforceCeiling(r, proc, now) {
			acted++
			continue
		}
		if e.reclaimOutputs(r, proc, now) {
			acted++
		}
	}
	return acted
}

// reclaimOutputs closes the read ends of a run's pipes once the agent exited
// more than DrainGrace ago, or the run outlived every grace period. A
// descendant that inherited the pipes can otherwise keep the readers
// blocked forever.
func (e *Engine) reclaimOutputs(r *AgentRun, proc processHandle, now time.Time) bool {
	exitedLongAgo := proc.Exited() && now.Sub(proc.ExitedAt()) > e.settings.DrainGrace
	hardCeiling := e.settings.Timeout + e.settings.GracePeriod + e.settings.DrainGrace
	overdue := now.Sub(r.StartedAt()) > hardCeiling
	if !exitedLongAgo && !overdue {
		return false
	}
	if !r.reclaimed.CompareAndSwap(false, true) {
		return false
	}
	r.logger.Warn("Run %s for %s still draining (exited=%t), closing its output pipes", r.ID, r.Chat, proc.Exited())
	if exitedLongAgo {
		// Kills whatever is left of the process group.
		if err := proc.Terminate(e.settings.GracePeriod); err != nil {
			r.logger.Warn("Terminate leftovers of run %s failed: %v", r.ID, err)
		}
	}
	proc.CloseOutputs()
	return true
}
