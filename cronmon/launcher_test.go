package cronmon

import (
	"os"
	"testing"
	"time"

	"github.com/fjibj/foundationdb/cronmon/internal/exec"
)

func TestFilterEnvRemovesMatchingKeys(t *testing.T) {
	env := []string{"PATH=/bin", "WD40_BV=1", "HOME=/root", "WD40_IS_MY_DADDY=yes"}
	got := filterEnv(env, deleteEnvKeys)

	want := map[string]bool{"PATH=/bin": true, "HOME=/root": true}
	for _, kv := range got {
		if !want[kv] {
			t.Errorf("unexpected surviving entry %q", kv)
		}
		delete(want, kv)
	}
	if len(want) != 0 {
		t.Errorf("missing entries: %v", want)
	}
}

func TestFilterEnvDoesNotStripPrefixMatches(t *testing.T) {
	// A key that merely starts with a removed name, but isn't an exact
	// key match (no '=' at the boundary), must survive.
	env := []string{"WD40_BV_EXTRA=keep"}
	got := filterEnv(env, deleteEnvKeys)
	if len(got) != 1 || got[0] != "WD40_BV_EXTRA=keep" {
		t.Errorf("filterEnv = %v; want the entry preserved", got)
	}
}

func TestLaunchReportsNotLaunchable(t *testing.T) {
	cmd := &Command{Class: "fdbserver", ID: 1}
	started := make(chan launchResult, 1)

	launch(cmd, Identity{}, 0, started)

	res := <-started
	if res.err != errNotLaunchable {
		t.Errorf("err = %v, want errNotLaunchable", res.err)
	}
}

func TestLaunchSuccessRecordsStartedAt(t *testing.T) {
	restore := execStart
	defer func() { execStart = restore }()

	var gotOpts exec.StartOptions
	execStart = func(opts exec.StartOptions) (exec.Process, error) {
		gotOpts = opts
		return exec.NewSleepProcess(time.Hour, 0, 999), nil
	}

	cmd := &Command{Class: "fdbserver", ID: 7, Argv: []string{"/bin/true"}}
	cmd.Stdout.Read, cmd.Stdout.Write, _ = os.Pipe()
	cmd.Stderr.Read, cmd.Stderr.Write, _ = os.Pipe()

	started := make(chan launchResult, 1)
	before := time.Now()
	launch(cmd, Identity{Uid: 100, Gid: 100, Set: true}, 0, started)

	res := <-started
	if res.err != nil {
		t.Fatalf("unexpected error: %v", res.err)
	}
	if res.id != 7 {
		t.Errorf("id = %d, want 7", res.id)
	}
	if res.startedAt.Before(before) {
		t.Error("startedAt should be at or after the call to launch")
	}
	if !gotOpts.HasCredential || gotOpts.Uid != 100 || gotOpts.Gid != 100 {
		t.Errorf("StartOptions credential fields not forwarded: %+v", gotOpts)
	}
}

func TestLaunchWaitsOutDelay(t *testing.T) {
	restore := execStart
	defer func() { execStart = restore }()
	execStart = func(opts exec.StartOptions) (exec.Process, error) {
		return exec.NewSleepProcess(time.Hour, 0, 1), nil
	}

	cmd := &Command{Class: "fdbserver", ID: 1, Argv: []string{"/bin/true"}}
	cmd.Stdout.Read, cmd.Stdout.Write, _ = os.Pipe()
	cmd.Stderr.Read, cmd.Stderr.Write, _ = os.Pipe()

	started := make(chan launchResult, 1)
	before := time.Now()
	launch(cmd, Identity{}, 50*time.Millisecond, started)
	<-started

	if elapsed := time.Since(before); elapsed < 50*time.Millisecond {
		t.Errorf("launch returned after %v, expected to wait out the delay", elapsed)
	}
}
