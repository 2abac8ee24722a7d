package cronmon

import (
	"os"
	"time"

	"github.com/fjibj/foundationdb/cronmon/internal/exec"
)

// Identity is the resolved uid/gid children are launched as, per spec.md
// section 4.1's [supervisor] user/group keys.
type Identity struct {
	Uid, Gid uint32
	// Set reports whether a uid/gid switch should be requested at all; a
	// zero-value Identity with Set == false means "run as the supervisor's
	// own identity", which is the common case when no [supervisor] section
	// is present.
	Set bool
}

// execStart is the real exec.Start, overridden in tests so the launcher and
// supervisor can be exercised without forking real processes.
var execStart = exec.Start

// launch starts cmd's child process after waiting delay. It is always
// called from its own goroutine (never from the Supervisor's Run loop),
// because the startup delay and the blocking fork/exec syscall must not
// stall event processing; the result is reported back over started.
//
// Recording LastStart as "now + delay" (spec.md section 4.4's last line)
// rather than "now" means restart_delay_reset_interval is measured from the
// scheduled start, not from when this goroutine happened to run.
func launch(cmd *Command, id Identity, delay time.Duration, started chan<- launchResult) {
	if delay > 0 {
		time.Sleep(delay)
	}

	if !cmd.Launchable() {
		started <- launchResult{id: cmd.ID, err: errNotLaunchable}
		return
	}

	env := os.Environ()
	if cmd.DeleteParentEnv {
		env = filterEnv(env, deleteEnvKeys)
	}

	opts := exec.StartOptions{
		Argv:          cmd.Argv,
		Env:           env,
		Stdout:        cmd.Stdout.Write,
		Stderr:        cmd.Stderr.Write,
		HasCredential: id.Set,
		Uid:           id.Uid,
		Gid:           id.Gid,
	}

	proc, err := execStart(opts)
	if err != nil {
		started <- launchResult{id: cmd.ID, err: err}
		return
	}

	started <- launchResult{id: cmd.ID, proc: proc, startedAt: time.Now()}
}

// launchResult is what the launch goroutine reports back to the Run loop.
type launchResult struct {
	id        uint64
	proc      exec.Process
	startedAt time.Time
	err       error
}

var errNotLaunchable = errNotLaunchableErr{}

type errNotLaunchableErr struct{}

func (errNotLaunchableErr) Error() string { return "command has no resolved argv" }

// filterEnv removes every entry in env whose key is in remove.
func filterEnv(env []string, remove []string) []string {
	out := make([]string, 0, len(env))
next:
	for _, kv := range env {
		for _, k := range remove {
			if len(kv) > len(k) && kv[len(k)] == '=' && kv[:len(k)] == k {
				continue next
			}
		}
		out = append(out, kv)
	}
	return out
}
