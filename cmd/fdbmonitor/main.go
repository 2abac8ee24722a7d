package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fjibj/foundationdb/cronmon"
	"github.com/fjibj/foundationdb/internal/lockfile"
	"github.com/fjibj/foundationdb/internal/metrics"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const (
	defaultConfFile = "/etc/foundationdb/foundationdb.conf"
	defaultLockFile = "/var/run/fdbmonitor.pid"
)

var (
	confFile   string
	lockFile   string
	daemonize  bool
	metricAddr string
	showHelp   bool
)

func init() {
	pflag.StringVar(&confFile, "conffile", defaultConfFile, "path to the configuration file")
	pflag.StringVar(&lockFile, "lockfile", defaultLockFile, "path to the lock file")
	pflag.BoolVar(&daemonize, "daemonize", false, "daemonize after startup and log to syslog instead of stderr")
	pflag.StringVar(&metricAddr, "metrics-addr", "", "loopback address to expose Prometheus metrics on (disabled if empty)")
	pflag.BoolVarP(&showHelp, "help", "h", false, "show this help message")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}
}

func main() {
	// "-?" is the original's third spelling of --help, alongside -h; pflag
	// shorthands are restricted to letters and digits, so it's translated
	// here rather than registered directly.
	for i, a := range os.Args {
		if a == "-?" {
			os.Args[i] = "-h"
		}
	}

	pflag.Parse()

	if showHelp {
		pflag.Usage()
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fdbmonitor:", err)
		os.Exit(1)
	}
}

func run() error {
	// Re-exec detached before acquiring the lock: acquiring it first and
	// then handing the fd to a child via re-exec races the child's own
	// acquisition against this process's exit.
	if daemonize {
		if err := daemonizeSelf(); err != nil {
			return errors.Wrap(err, "failed to daemonize")
		}
	}

	lf, err := lockfile.Acquire(lockFile)
	if err != nil {
		if errors.Is(err, lockfile.ErrAlreadyLocked) {
			// Another instance is already supervising this configuration;
			// this is not an error, matching the original's clean exit 0.
			return nil
		}
		return errors.Wrap(err, "failed to acquire lock file")
	}
	defer lf.Release()

	journal, err := buildJournal()
	if err != nil {
		return err
	}

	journal.Write(cronmon.EventLockAcquired{Path: lf.Path(), PID: os.Getpid()})

	var m cronmon.Metrics
	if metricAddr != "" {
		reg := metrics.New()
		if _, err := reg.Serve(context.Background(), metricAddr); err != nil {
			return errors.Wrap(err, "failed to start metrics listener")
		}
		m = cronmon.NewMetricsAdapter(reg)
	}

	sup, err := cronmon.NewSupervisor(confFile, journal, m)
	if err != nil {
		return errors.Wrap(err, "failed to construct supervisor")
	}

	return sup.Run()
}

func buildJournal() (cronmon.Journaler, error) {
	if !daemonize {
		return cronmon.NewStderrJournaler(os.Stderr), nil
	}
	return cronmon.NewSyslogJournaler("fdbmonitor")
}
