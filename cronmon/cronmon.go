// Package cronmon is the core of the fdbmonitor process supervisor.
//
// It reads a declarative, INI-style configuration file that enumerates a set
// of named child processes (each identified by a class and a numeric id),
// launches them with argv derived from that file, captures their stdout and
// stderr into the journal, restarts them on exit with a bounded exponential
// backoff, and reconciles the running set against the file whenever the file
// (or any symlink hop on its resolved path) changes.
//
// Concurrency model
//
// Filesystem notifications, launch results, child exits and signals are each
// turned into a value sent over a channel, child exits and launch results by
// a small dedicated goroutine per child. The Supervisor's Run loop is the
// only goroutine that ever touches the process table, and it consumes those
// channels with a single select statement. Child stdout/stderr is read by
// one goroutine per pipe that writes each line straight to the journal,
// without passing through the Run loop. This is the same "signal-to-event
// bridge" the
// original C implementation gets from pselect(2), expressed with Go's
// native primitive instead of an OS-level multiplexer.
package cronmon
