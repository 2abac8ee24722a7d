package cronmon

import (
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fjibj/foundationdb/cronmon/internal/exec"
	"github.com/fjibj/foundationdb/internal/ini"
	"github.com/fjibj/foundationdb/internal/metrics"
	"github.com/pkg/errors"
)

// Metrics is the subset of internal/metrics.Registry the supervisor updates.
// NewMetricsAdapter forwards it onto a real Registry; nopMetrics discards
// every update when no metrics listener is configured.
type Metrics interface {
	IncRestarts()
	IncSpawnErrors()
	IncConfigReloads()
	IncWatchRebuilds()
	SetRunningChildren(int)
}

// metricsAdapter satisfies Metrics by forwarding onto a *metrics.Registry.
type metricsAdapter struct{ r *metrics.Registry }

// NewMetricsAdapter wraps a metrics.Registry as a Metrics for the
// Supervisor to update.
func NewMetricsAdapter(r *metrics.Registry) Metrics { return metricsAdapter{r} }

func (m metricsAdapter) IncRestarts()            { m.r.Restarts.Inc() }
func (m metricsAdapter) IncSpawnErrors()         { m.r.SpawnErrors.Inc() }
func (m metricsAdapter) IncConfigReloads()       { m.r.ConfigReloads.Inc() }
func (m metricsAdapter) IncWatchRebuilds()       { m.r.WatchRebuilds.Inc() }
func (m metricsAdapter) SetRunningChildren(n int) { m.r.RunningChildren.Set(float64(n)) }

type nopMetrics struct{}

func (nopMetrics) IncRestarts()             {}
func (nopMetrics) IncSpawnErrors()          {}
func (nopMetrics) IncConfigReloads()        {}
func (nopMetrics) IncWatchRebuilds()        {}
func (nopMetrics) SetRunningChildren(int)   {}

// Supervisor is the single control loop of spec.md section 5: it owns the
// process table and multiplexes configuration-file events, child exits, and
// shutdown signals from one goroutine, the Go-idiomatic replacement for the
// original's pselect-driven event loop.
type Supervisor struct {
	ConfigPath string
	Journal    Journaler
	Metrics    Metrics

	Identity Identity

	rng *rand.Rand

	table   *table
	watcher *configWatcher

	started  chan launchResult
	exited   chan exec.ExitStatus
	running  map[uint64]exec.Process
	sigCh    chan os.Signal
}

// NewSupervisor constructs a Supervisor watching confPath. Only the
// configuration watcher is set up here; the file itself is first loaded by
// Run, and a load failure at that point is returned from Run.
func NewSupervisor(confPath string, j Journaler, m Metrics) (*Supervisor, error) {
	if m == nil {
		m = nopMetrics{}
	}

	w, err := newConfigWatcher(confPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start configuration watcher")
	}

	return &Supervisor{
		ConfigPath: confPath,
		Journal:    j,
		Metrics:    m,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		table:      newTable(),
		watcher:    w,
		started:    make(chan launchResult),
		exited:     make(chan exec.ExitStatus),
		running:    make(map[uint64]exec.Process),
		sigCh:      make(chan os.Signal, 4),
	}, nil
}

// Run blocks, reconciling the initial configuration and then servicing
// events until SIGINT or SIGTERM is received, at which point every running
// child is signaled, reaped, and Run returns nil.
func (s *Supervisor) Run() error {
	signal.Notify(s.sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(s.sigCh)

	if err := s.reloadAndApply(); err != nil {
		return err
	}

	for {
		select {
		case sig := <-s.sigCh:
			switch sig {
			case syscall.SIGHUP:
				// SIGHUP is the signal shutdown() itself sends to the
				// process group to reach every child at once; received here
				// it means nothing and is logged, not acted on.
				s.Journal.Write(EventSignalIgnored{Signal: sig.String()})
			case syscall.SIGINT, syscall.SIGTERM:
				s.Journal.Write(EventShutdown{Signal: sig.String()})
				s.shutdown()
				return nil
			}

		case res := <-s.started:
			s.handleLaunchResult(res)

		case status := <-s.exited:
			s.handleExit(status)

		case evt, ok := <-s.watcher.Events():
			if !ok {
				continue
			}
			if !s.watcher.relevant(evt) {
				continue
			}
			hops, err := s.watcher.rebuild()
			if err != nil {
				// The watch cannot be re-armed, typically because the
				// configuration file's directory itself was removed. There
				// is nothing left to supervise reconciliation against, so
				// this is treated as startup-fatal rather than logged and
				// skipped.
				s.Journal.Write(EventWarning{Component: "watcher", Err: err.Error()})
				s.shutdown()
				return errors.Wrap(err, "configuration watch lost and could not be rebuilt")
			}
			s.Journal.Write(EventWatchRebuilt{Path: s.ConfigPath, Hops: hops})
			s.Metrics.IncWatchRebuilds()
			if err := s.reloadAndApply(); err != nil {
				s.Journal.Write(EventWarning{Component: "config", Err: err.Error()})
			}

		case err, ok := <-s.watcher.Errors():
			if !ok {
				continue
			}
			s.Journal.Write(EventWarning{Component: "watcher", Err: err.Error()})
		}
	}
}

// reloadAndApply parses the configuration file fresh, reconciles it against
// the table, and launches/kills whatever the reconciliation decided.
func (s *Supervisor) reloadAndApply() error {
	cfg, err := ini.Load(s.ConfigPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	s.Journal.Write(EventReload{Path: s.ConfigPath})
	s.Metrics.IncConfigReloads()

	identityChanged := false
	if user, group := cfg.Supervisor(); user != "" || group != "" {
		if id, err := resolveIdentity(user, group); err == nil {
			identityChanged = id != s.Identity
			s.Identity = id
		} else {
			s.Journal.Write(EventWarning{Component: "config", Err: err.Error()})
		}
	}

	toLaunch, toKill := reconcile(s.table, cfg, s.Journal.Write)

	// A changed [supervisor] user/group applies to every child, not just
	// the ones the reconciler found an argv difference for, so every
	// running child whose kill_on_configuration_change is set is flushed
	// and relaunched under the new identity.
	if identityChanged {
		for _, id := range s.table.runningIDs() {
			if cmd, ok := s.table.get(id); !ok || !cmd.KillOnConfigurationChange {
				continue
			}
			if pid, ok := s.table.pidOf(id); ok {
				already := false
				for _, kr := range toKill {
					if kr.id == id {
						already = true
						break
					}
				}
				if !already {
					toKill = append(toKill, killRequest{id: id, pid: pid})
				}
			}
		}
	}

	for _, kr := range toKill {
		s.signalKill(kr)
	}
	for _, id := range toLaunch {
		s.launchID(id, 0)
	}

	s.Metrics.SetRunningChildren(len(s.table.runningIDs()))
	return nil
}

// launchID starts (after delay) the Command currently in the table for id.
func (s *Supervisor) launchID(id uint64, delay time.Duration) {
	cmd, ok := s.table.get(id)
	if !ok || !cmd.Launchable() {
		return
	}
	go launch(cmd, s.Identity, delay, s.started)
}

func (s *Supervisor) handleLaunchResult(res launchResult) {
	cmd, ok := s.table.get(res.id)
	if !ok {
		if res.proc != nil {
			res.proc.Kill()
		}
		return
	}

	if res.err != nil {
		s.Journal.Write(EventProcessSpawnErr{Section: cmd.section(), Err: res.err.Error()})
		s.Metrics.IncSpawnErrors()
		return
	}

	cmd.LastStart = res.startedAt
	s.table.setRunning(res.id, res.proc.PID())
	s.running[res.id] = res.proc

	if !cmd.Quiet {
		s.Journal.Write(EventProcessSpawned{Section: cmd.section(), PID: res.proc.PID()})
	}
	s.Metrics.SetRunningChildren(len(s.table.runningIDs()))

	outEmit := defaultOutputEmit(s.Journal)
	go newOutputReader(cmd.section(), "stdout", cmd.Stdout.Read, outEmit).run()
	go newOutputReader(cmd.section(), "stderr", cmd.Stderr.Read, outEmit).run()

	go func(id uint64, proc exec.Process) {
		status := proc.Wait()
		status.PID = proc.PID()
		s.exited <- status
	}(res.id, res.proc)
}

// handleExit reaps one terminated child, updates the table, and schedules a
// restart unless the section was deconfigured in the meantime.
func (s *Supervisor) handleExit(status exec.ExitStatus) {
	id, ok := s.table.idOf(status.PID)
	if !ok {
		return
	}

	cmd, ok := s.table.get(id)
	if !ok {
		s.table.removePid(id, status.PID)
		return
	}

	s.table.removePid(id, status.PID)
	delete(s.running, id)
	s.Metrics.SetRunningChildren(len(s.table.runningIDs()))

	if cmd.Deconfigured {
		cmd.destroy()
		s.table.remove(id)
		return
	}

	delay := cmd.NextRestartDelay(time.Now(), s.rng)

	if !cmd.Quiet {
		s.Journal.Write(EventProcessExited{
			Section:  cmd.section(),
			PID:      status.PID,
			ExitCode: status.Code,
			Signaled: status.Signaled,
			Signal:   status.Signal,
			Delay:    delay,
		})
	}
	s.Metrics.IncRestarts()

	s.launchID(id, time.Duration(delay)*time.Second)
}

// signalKill sends SIGTERM to a running child the reconciler decided must
// be replaced or removed; the resulting exit flows back through handleExit
// like any other.
func (s *Supervisor) signalKill(kr killRequest) {
	cmd, ok := s.table.get(kr.id)
	if ok && !cmd.Quiet {
		s.Journal.Write(EventProcessKilled{Section: cmd.section(), PID: kr.pid})
	}
	if proc, ok := s.running[kr.id]; ok {
		proc.Signal(syscall.SIGTERM)
	}
}

// shutdown sends one SIGHUP to the whole process group and blocks until
// every running child has been reaped, matching spec.md section 5's
// clean-exit sequence. Children stay in the supervisor's own process group
// (os/exec never calls setpgid here), so pid 0 reaches all of them in a
// single syscall, the same as the original's kill(0, SIGHUP).
func (s *Supervisor) shutdown() {
	pending := len(s.running)
	if pending > 0 {
		syscall.Kill(0, syscall.SIGHUP)
	}

	for pending > 0 {
		status := <-s.exited
		pending--

		if id, ok := s.table.idOf(status.PID); ok {
			if cmd, ok := s.table.get(id); ok {
				cmd.destroy()
			}
			s.table.removePid(id, status.PID)
			delete(s.running, id)
		}
	}
}
