package main

import (
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// daemonizeSelf re-execs the current process detached from its controlling
// terminal, in a new session, with stdio redirected to /dev/null, then exits
// the parent. Go cannot turn the current process into a daemon in place the
// way daemon(3) does (no fork() without exec()), so re-exec is the
// equivalent: the child inherits argv/env and reopens the lock file itself.
//
// Callers must invoke this before doing anything the child should not
// repeat as a side effect of re-execing (a second lock file acquisition is
// fine; it is idempotent and will simply overwrite the pid).
func daemonizeSelf() error {
	if os.Getenv(daemonizedEnvVar) == "1" {
		// Already the re-exec'd child: finish settling in and return.
		return settle()
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrap(err, "failed to open /dev/null")
	}
	defer devNull.Close()

	cmd := exec.Command(os.Args[0], os.Args[1:]...)
	cmd.Env = append(os.Environ(), daemonizedEnvVar+"=1")
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return errors.Wrap(err, "failed to re-exec as daemon")
	}

	os.Exit(0)
	return nil
}

const daemonizedEnvVar = "FDBMONITOR_DAEMONIZED"

// settle applies the rest of the original daemon(3)-based setup that still
// makes sense once already detached: becoming a reaper for orphaned
// grandchildren, and ignoring the job-control signals a session leader with
// no controlling terminal can still spuriously receive.
func settle() error {
	if err := unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0); err != nil {
		return errors.Wrap(err, "failed to become child subreaper")
	}

	signal.Ignore(syscall.SIGTSTP, syscall.SIGTTOU, syscall.SIGTTIN)
	return nil
}
