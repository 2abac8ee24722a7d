package cronmon

import (
	"fmt"
	"io"
	"log/syslog"
	"time"
)

// Journaler is fdbmonitor's structured event sink. Every component that
// produces an Event writes it through one of these rather than calling
// fmt.Fprintf directly, so the choice between human-readable stderr output
// and syslog (spec.md section 6) is made once, at startup, in main.
type Journaler interface {
	Write(Event)
}

// MultiJournaler fans a single Event out to every one of its members, so a
// recorder can be attached alongside another sink.
type MultiJournaler []Journaler

func (m MultiJournaler) Write(ev Event) {
	for _, j := range m {
		j.Write(ev)
	}
}

type stderrJournaler struct {
	w io.Writer
}

// NewStderrJournaler writes one timestamped, human-readable line per event
// to w. This is the default sink and the only one available before
// --daemonize detaches from the controlling terminal.
func NewStderrJournaler(w io.Writer) Journaler {
	return &stderrJournaler{w: w}
}

func (s *stderrJournaler) Write(ev Event) {
	fmt.Fprintf(s.w, "%s %-5s %s\n", time.Now().Format("2006-01-02 15:04:05.000"), severityTag(ev.Severity()), describe(ev))
}

func severityTag(sev Severity) string {
	switch sev {
	case SevErr:
		return "ERROR"
	case SevWarning:
		return "WARN"
	case SevNotice:
		return "NOTICE"
	default:
		return "INFO"
	}
}

type syslogJournaler struct {
	w *syslog.Writer
}

// NewSyslogJournaler opens a connection to the system log under the given
// tag and facility LOG_DAEMON, matching spec.md section 6's daemonized
// logging path.
func NewSyslogJournaler(tag string) (Journaler, error) {
	w, err := syslog.New(syslog.LOG_DAEMON, tag)
	if err != nil {
		return nil, err
	}
	return &syslogJournaler{w: w}, nil
}

func (s *syslogJournaler) Write(ev Event) {
	msg := describe(ev)
	switch ev.Severity() {
	case SevErr:
		s.w.Err(msg)
	case SevWarning:
		s.w.Warning(msg)
	case SevNotice:
		s.w.Notice(msg)
	default:
		s.w.Info(msg)
	}
}

// describe renders an Event as the single-line human message both sinks
// format, differing only in how that line is delivered.
func describe(ev Event) string {
	switch e := ev.(type) {
	case EventWarning:
		return fmt.Sprintf("%s: %s", e.Component, e.Err)
	case EventReload:
		return fmt.Sprintf("reloading configuration from %s", e.Path)
	case EventSectionError:
		return fmt.Sprintf("%s: %s", e.Section, e.Err)
	case EventProcessSpawned:
		return fmt.Sprintf("%s: launched as pid %d", e.Section, e.PID)
	case EventProcessSpawnErr:
		return fmt.Sprintf("%s: failed to launch: %s", e.Section, e.Err)
	case EventProcessKilled:
		return fmt.Sprintf("%s: sending SIGTERM to pid %d", e.Section, e.PID)
	case EventProcessExited:
		if e.Signaled {
			return fmt.Sprintf("%s: pid %d terminated by signal %d, restarting in %ds", e.Section, e.PID, e.Signal, e.Delay)
		}
		return fmt.Sprintf("%s: pid %d exited with code %d, restarting in %ds", e.Section, e.PID, e.ExitCode, e.Delay)
	case EventDeconfigured:
		return fmt.Sprintf("%s: removed from configuration", e.Section)
	case EventWatchRebuilt:
		return fmt.Sprintf("watch rebuilt for %s (%d hops)", e.Path, e.Hops)
	case EventLockAcquired:
		return fmt.Sprintf("acquired lock %s, pid %d", e.Path, e.PID)
	case EventShutdown:
		return fmt.Sprintf("shutting down on %s", e.Signal)
	case EventSignalIgnored:
		return fmt.Sprintf("received signal %s, doing nothing", e.Signal)
	case EventChildOutput:
		return fmt.Sprintf("%s(%s): %s", e.Section, e.Stream, e.Line)
	default:
		return ev.Type()
	}
}
