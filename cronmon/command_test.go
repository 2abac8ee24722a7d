package cronmon

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fjibj/foundationdb/internal/ini"
)

func loadConf(t *testing.T, body string) *ini.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "foundationdb.conf")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := ini.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestNewCommandArgvSubstitution(t *testing.T) {
	cfg := loadConf(t, `
[general]
restart_delay = 60

[fdbserver]
command = /usr/sbin/fdbserver

[fdbserver.3]
datadir = /var/lib/foundationdb/data/$ID
public_address = 127.0.0.1:4503
`)

	var errs []error
	cmd := NewCommand(cfg, ini.Instance{Class: "fdbserver", ID: 3}, func(err error) { errs = append(errs, err) })

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if !cmd.Launchable() {
		t.Fatal("command should be launchable")
	}
	if cmd.Argv[0] != "/usr/sbin/fdbserver" {
		t.Errorf("Argv[0] = %q", cmd.Argv[0])
	}

	want := map[string]bool{
		"--datadir=/var/lib/foundationdb/data/3": true,
		"--public_address=127.0.0.1:4503":        true,
	}
	for _, a := range cmd.Argv[1:] {
		if !want[a] {
			t.Errorf("unexpected argv entry %q", a)
		}
		delete(want, a)
	}
	if len(want) != 0 {
		t.Errorf("missing argv entries: %v", want)
	}
}

func TestNewCommandMissingRestartDelay(t *testing.T) {
	cfg := loadConf(t, `
[fdbserver]
command = /usr/sbin/fdbserver

[fdbserver.1]
`)

	var errs []error
	cmd := NewCommand(cfg, ini.Instance{Class: "fdbserver", ID: 1}, func(err error) { errs = append(errs, err) })

	if cmd.Launchable() {
		t.Fatal("command with no restart_delay anywhere in the chain must not be launchable")
	}
	if len(errs) != 1 {
		t.Fatalf("expected exactly one error, got %v", errs)
	}
}

func TestNewCommandKillOnConfigurationChangeTruthiness(t *testing.T) {
	cfg := loadConf(t, `
[general]
restart_delay = 60
command = /bin/true

[fdbserver.1]
kill_on_configuration_change = false

[fdbserver.2]
kill_on_configuration_change = true

[fdbserver.3]
kill_on_configuration_change = yes
`)

	cases := []struct {
		id   uint64
		want bool
	}{
		{1, false}, // "false" is not the literal "true" -> disabled
		{2, true},
		{3, false}, // anything other than "true" disables it
	}

	for _, c := range cases {
		cmd := NewCommand(cfg, ini.Instance{Class: "fdbserver", ID: c.id}, func(error) {})
		if cmd.KillOnConfigurationChange != c.want {
			t.Errorf("id %d: KillOnConfigurationChange = %v, want %v", c.id, cmd.KillOnConfigurationChange, c.want)
		}
	}
}

func TestArgvEqualAndUpdate(t *testing.T) {
	cfg := loadConf(t, `
[general]
restart_delay = 60
command = /bin/true

[fdbserver.1]
`)

	a := NewCommand(cfg, ini.Instance{Class: "fdbserver", ID: 1}, func(error) {})
	b := NewCommand(cfg, ini.Instance{Class: "fdbserver", ID: 1}, func(error) {})

	if !ArgvEqual(a, b) {
		t.Fatal("identical configs should produce equal argv")
	}

	b.Quiet = true
	a.Update(b)
	if !a.Quiet {
		t.Error("Update should copy Quiet")
	}
}

func TestNextRestartDelayResetsAfterInterval(t *testing.T) {
	cmd := &Command{
		InitialRestartDelay:       1,
		MaxRestartDelay:           60,
		RestartBackoff:            2,
		RestartDelayResetInterval: 100,
		CurrentRestartDelay:       1,
	}
	rng := rand.New(rand.NewSource(1))

	now := time.Unix(1000, 0)
	cmd.LastStart = now

	delay := cmd.NextRestartDelay(now.Add(10*time.Second), rng)
	if delay < 0 {
		t.Errorf("delay must be non-negative, got %d", delay)
	}
	if cmd.CurrentRestartDelay <= 1 {
		t.Errorf("CurrentRestartDelay should grow after a restart, got %v", cmd.CurrentRestartDelay)
	}

	// Past the reset interval, the backoff starts over from InitialRestartDelay.
	cmd.LastStart = now
	cmd.NextRestartDelay(now.Add(200*time.Second), rng)
	if cmd.CurrentRestartDelay > float64(cmd.InitialRestartDelay)*cmd.RestartBackoff {
		t.Errorf("CurrentRestartDelay did not reset across the interval: %v", cmd.CurrentRestartDelay)
	}
}

func TestNextRestartDelayClampsToMax(t *testing.T) {
	cmd := &Command{
		InitialRestartDelay:       1,
		MaxRestartDelay:           5,
		RestartBackoff:            10,
		RestartDelayResetInterval: 1000,
		CurrentRestartDelay:       1,
	}
	rng := rand.New(rand.NewSource(2))
	now := time.Unix(1000, 0)
	cmd.LastStart = now

	for i := 0; i < 5; i++ {
		cmd.NextRestartDelay(now, rng)
	}
	if cmd.CurrentRestartDelay > float64(cmd.MaxRestartDelay) {
		t.Errorf("CurrentRestartDelay exceeded MaxRestartDelay: %v > %d", cmd.CurrentRestartDelay, cmd.MaxRestartDelay)
	}
}
