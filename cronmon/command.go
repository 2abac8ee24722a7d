package cronmon

import (
	"math"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fjibj/foundationdb/internal/ini"
	"github.com/pkg/errors"
)

// pipePair is one end-to-end pipe a child's stdout or stderr is redirected
// into. Read is registered with the event loop for as long as the owning
// Command exists; Write is dup2'd over the child's fd in the launcher.
type pipePair struct {
	Read  *os.File
	Write *os.File
}

func newPipePair() (pipePair, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return pipePair{}, err
	}
	return pipePair{Read: r, Write: w}, nil
}

func (p pipePair) close() {
	if p.Read != nil {
		p.Read.Close()
	}
	if p.Write != nil {
		p.Write.Close()
	}
}

// Command is the immutable-argv, mutable-scheduling description of one
// configured "class.id" child, matching spec.md section 3.
type Command struct {
	Class string
	ID    uint64

	Argv []string // nil if the section failed to parse; see Launchable

	InitialRestartDelay       uint32
	MaxRestartDelay           uint32
	RestartBackoff            float64
	RestartDelayResetInterval uint32
	CurrentRestartDelay       float64

	LastStart time.Time // zero before first launch

	Quiet                     bool
	KillOnConfigurationChange bool
	DeleteParentEnv           bool
	Deconfigured              bool

	Stdout pipePair
	Stderr pipePair
}

// section returns the "class.id" string identifying this Command, used as a
// log prefix everywhere spec.md calls for one.
func (c *Command) section() string {
	return c.Class + "." + strconv.FormatUint(c.ID, 10)
}

// Launchable reports whether the Command's argv was resolved successfully.
// A Command with a parse error still occupies a table entry (so future
// reloads can retry it) but is never launched.
func (c *Command) Launchable() bool {
	return len(c.Argv) > 0
}

// deleteEnvKeys are removed from the child's environment when
// DeleteParentEnv is set, mirroring the original's fixed WD40_* list.
var deleteEnvKeys = []string{"WD40_BV", "WD40_IS_MY_DADDY", "CONF_BUILD_VERSION"}

// NewCommand builds a Command for the given instance from cfg. Parse errors
// in numeric fields or a missing "command" key are reported through
// reportErr and leave the Command un-launchable (Argv == nil), matching
// spec.md section 4.1's "leave un-launchable, log, continue" policy.
func NewCommand(cfg *ini.Config, in ini.Instance, reportErr func(error)) *Command {
	cmd := &Command{
		Class:                     in.Class,
		ID:                        in.ID,
		KillOnConfigurationChange: true,
	}

	stdout, err := newPipePair()
	if err != nil {
		reportErr(errors.Wrap(err, "failed to construct stdout pipe"))
	}
	stderr, err := newPipePair()
	if err != nil {
		reportErr(errors.Wrap(err, "failed to construct stderr pipe"))
	}
	cmd.Stdout, cmd.Stderr = stdout, stderr

	rd, ok := cfg.ResolveMeta(in, "restart_delay")
	if !ok {
		reportErr(errors.Errorf("unable to resolve restart delay for %s", cmd.section()))
		return cmd
	}
	maxDelay, err := strconv.ParseUint(rd, 10, 32)
	if err != nil {
		reportErr(errors.Errorf("unable to parse restart delay for %s", cmd.section()))
		return cmd
	}
	cmd.MaxRestartDelay = uint32(maxDelay)

	if ird, ok := cfg.ResolveMeta(in, "initial_restart_delay"); ok {
		v, err := strconv.ParseUint(ird, 10, 32)
		if err != nil {
			reportErr(errors.Errorf("unable to parse initial restart delay for %s", cmd.section()))
			return cmd
		}
		if uint32(v) < cmd.MaxRestartDelay {
			cmd.InitialRestartDelay = uint32(v)
		} else {
			cmd.InitialRestartDelay = cmd.MaxRestartDelay
		}
	}
	cmd.CurrentRestartDelay = float64(cmd.InitialRestartDelay)

	if rbo, ok := cfg.ResolveMeta(in, "restart_backoff"); ok {
		v, err := strconv.ParseFloat(rbo, 64)
		if err != nil {
			reportErr(errors.Errorf("unable to parse restart backoff for %s", cmd.section()))
			return cmd
		}
		if v < 1.0 {
			reportErr(errors.Errorf("invalid restart backoff value %v for %s", v, cmd.section()))
			return cmd
		}
		cmd.RestartBackoff = v
	} else {
		cmd.RestartBackoff = float64(cmd.MaxRestartDelay)
	}

	if rdri, ok := cfg.ResolveMeta(in, "restart_delay_reset_interval"); ok {
		v, err := strconv.ParseUint(rdri, 10, 32)
		if err != nil {
			reportErr(errors.Errorf("unable to parse restart delay reset interval for %s", cmd.section()))
			return cmd
		}
		cmd.RestartDelayResetInterval = uint32(v)
	} else {
		cmd.RestartDelayResetInterval = cmd.MaxRestartDelay
	}

	// disable_lifecycle_logging / delete_wd40_env / kill_on_configuration_change
	// all consult only instance/class/general (no [supervisor] fallback).
	if q, ok := cfg.Resolve(in, "disable_lifecycle_logging"); ok && q == "true" {
		cmd.Quiet = true
	}
	if dwe, ok := cfg.Resolve(in, "delete_wd40_env"); ok && dwe == "true" {
		cmd.DeleteParentEnv = true
	}
	// Preserved deliberately: any value other than the literal "true" is
	// treated as false, including the string "false" itself. See
	// SPEC_FULL.md's supplemented-features note on this key.
	if kocc, ok := cfg.Resolve(in, "kill_on_configuration_change"); ok && kocc != "true" {
		cmd.KillOnConfigurationChange = false
	}

	binary, ok := cfg.Resolve(in, "command")
	if !ok {
		reportErr(errors.Errorf("unable to resolve command for %s", cmd.section()))
		return cmd
	}

	argv := strings.Fields(binary)

	idStr := strconv.FormatUint(in.ID, 10)
	forwarded := cfg.ForwardedKeys(in)

	keys := make([]string, 0, len(forwarded))
	for k := range forwarded {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := strings.ReplaceAll(forwarded[k], "$ID", idStr)
		argv = append(argv, "--"+k+"="+v)
	}

	cmd.Argv = argv
	return cmd
}

// ArgvEqual reports whether two Commands would exec the same argv, the
// comparison the reconciler uses to decide whether a config change requires
// killing the running child (spec.md section 4.3).
func ArgvEqual(a, b *Command) bool {
	if len(a.Argv) != len(b.Argv) {
		return false
	}
	for i := range a.Argv {
		if a.Argv[i] != b.Argv[i] {
			return false
		}
	}
	return true
}

// Update copies the mutable, non-argv fields of other into c, clamping
// CurrentRestartDelay back into [Initial, Max]. This implements the
// "options-only update" path of spec.md section 4.3, used when a reload's
// candidate Command has identical argv to the running one.
func (c *Command) Update(other *Command) {
	c.Quiet = other.Quiet
	c.DeleteParentEnv = other.DeleteParentEnv
	c.InitialRestartDelay = other.InitialRestartDelay
	c.MaxRestartDelay = other.MaxRestartDelay
	c.RestartBackoff = other.RestartBackoff
	c.RestartDelayResetInterval = other.RestartDelayResetInterval
	c.Deconfigured = other.Deconfigured
	c.KillOnConfigurationChange = other.KillOnConfigurationChange

	if c.CurrentRestartDelay > float64(c.MaxRestartDelay) {
		c.CurrentRestartDelay = float64(c.MaxRestartDelay)
	}
	if c.CurrentRestartDelay < float64(c.InitialRestartDelay) {
		c.CurrentRestartDelay = float64(c.InitialRestartDelay)
	}
}

// destroy releases the Command's pipes. It must be called exactly once, at
// the point spec.md section 3 calls "Command destruction": either the
// running child has been reaped, or the Command was never launched.
func (c *Command) destroy() {
	c.Stdout.close()
	c.Stderr.close()
}

// NextRestartDelay implements spec.md section 4.5: the exponential-backoff
// jitter algorithm run once per child exit that is not a deconfiguration.
// now is passed in (rather than read from time.Now()) so tests can drive it
// deterministically.
func (c *Command) NextRestartDelay(now time.Time, rng *rand.Rand) int {
	if c.LastStart.IsZero() || now.Sub(c.LastStart) >= time.Duration(c.RestartDelayResetInterval)*time.Second {
		c.CurrentRestartDelay = float64(c.InitialRestartDelay)
	}

	lo := int(math.Floor(-0.1 * c.CurrentRestartDelay))
	hi := int(math.Ceil(0.1 * c.CurrentRestartDelay))

	var jitter int
	if hi > lo {
		jitter = lo + rng.Intn(hi-lo+1)
	}

	delay := int(math.Round(c.CurrentRestartDelay)) + jitter
	if delay < 0 {
		delay = 0
	}

	next := c.RestartBackoff * math.Max(1.0, c.CurrentRestartDelay)
	if next > float64(c.MaxRestartDelay) {
		next = float64(c.MaxRestartDelay)
	}
	c.CurrentRestartDelay = next

	return delay
}
