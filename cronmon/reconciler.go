package cronmon

import (
	"github.com/fjibj/foundationdb/internal/ini"
)

// killRequest asks the Run loop to signal a running child.
type killRequest struct {
	id  uint64
	pid int
}

// reconcile compares the table's current state against a freshly loaded
// configuration and mutates the table in place, per spec.md section 4.3. It
// returns the ids that should be launched immediately (newly configured, or
// replaced while not running) and the running children that must be signaled
// because their configuration changed underneath them or they were removed
// from the file entirely.
//
// emit is called once per Event the reconciliation itself produces
// (EventSectionError, EventDeconfigured); process-lifecycle events belong to
// the launcher and the exit handler, not here.
func reconcile(t *table, cfg *ini.Config, emit func(Event)) (toLaunch []uint64, toKill []killRequest) {
	seen := make(map[uint64]bool)

	instances := cfg.Instances(func(section string) {
		emit(EventSectionError{Section: section, Err: "section name does not end in a nonzero instance id"})
	})

	for _, in := range instances {
		seen[in.ID] = true

		candidate := NewCommand(cfg, in, func(err error) {
			emit(EventSectionError{Section: in.Section(), Err: err.Error()})
		})

		existing, ok := t.get(in.ID)
		if !ok {
			t.put(in.ID, candidate)
			if candidate.Launchable() {
				toLaunch = append(toLaunch, in.ID)
			}
			continue
		}

		existing.Deconfigured = false

		// A kill_on_configuration_change transition from false to true is
		// treated the same as an argv change even when the argv itself is
		// identical, so the process picks up whatever config changes it
		// missed while it couldn't be killed.
		changed := !ArgvEqual(existing, candidate) ||
			(candidate.KillOnConfigurationChange && !existing.KillOnConfigurationChange)

		if !changed {
			existing.Update(candidate)
			candidate.destroy() // candidate's pipes are unused; existing's stay live
			continue
		}

		// The command changed: the running child (if any) is now executing a
		// stale command line, or has a config the supervisor could not yet
		// act on. Swap in the new Command so any future restart (natural
		// exit, or the kill below) uses it; whether we force the swap *now*
		// depends on the new command's kill_on_configuration_change, since
		// that is the flag now in effect for this section.
		pid, running := t.pidOf(in.ID)

		oldCmd := existing
		t.put(in.ID, candidate)

		if running {
			if candidate.KillOnConfigurationChange {
				toKill = append(toKill, killRequest{id: in.ID, pid: pid})
			}
			// oldCmd's pipes stay open until the exit handler reaps it and
			// calls destroy; candidate already carries fresh pipes for the
			// eventual relaunch.
		} else {
			oldCmd.destroy()
			if candidate.Launchable() {
				toLaunch = append(toLaunch, in.ID)
			}
		}
	}

	for _, id := range t.runningOrKnownIDs() {
		if seen[id] {
			continue
		}

		cmd, ok := t.get(id)
		if !ok || cmd.Deconfigured {
			continue
		}
		cmd.Deconfigured = true
		emit(EventDeconfigured{Section: cmd.section()})

		if pid, running := t.pidOf(id); running {
			toKill = append(toKill, killRequest{id: id, pid: pid})
		} else {
			cmd.destroy()
			t.remove(id)
		}
	}

	return toLaunch, toKill
}
