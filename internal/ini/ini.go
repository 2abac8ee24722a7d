// Package ini wraps gopkg.in/ini.v1 with the section/key resolution rules
// fdbmonitor's configuration file uses: a [general] section of defaults, a
// [supervisor] section carrying process identity, per-class [class]
// sections, and per-instance [class.id] sections whose keys shadow the
// class's, which shadow general's.
package ini

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	goini "gopkg.in/ini.v1"
)

// MetaKeys are the keys that configure the supervisor itself rather than
// being forwarded to the child as a --key=value argument.
var MetaKeys = map[string]bool{
	"command":                      true,
	"restart_delay":                true,
	"initial_restart_delay":        true,
	"restart_backoff":              true,
	"restart_delay_reset_interval": true,
	"disable_lifecycle_logging":    true,
	"delete_wd40_env":              true,
	"kill_on_configuration_change": true,
}

// Instance identifies a single "class.id" section.
type Instance struct {
	Class string
	ID    uint64
}

// Config is a loaded, parsed configuration file.
type Config struct {
	f        *goini.File
	sections map[string]bool
}

// Load reads and parses the file at path.
func Load(path string) (*Config, error) {
	f, err := goini.LoadSources(goini.LoadOptions{AllowBooleanKeys: true}, path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration file")
	}

	sections := make(map[string]bool)
	for _, s := range f.Sections() {
		if s.Name() != goini.DefaultSection {
			sections[s.Name()] = true
		}
	}

	return &Config{f: f, sections: sections}, nil
}

// HasSection reports whether name is a section that actually appears in the
// file (unlike the underlying library's Section, which lazily creates
// sections on lookup).
func (c *Config) HasSection(name string) bool {
	return c.sections[name]
}

// Instances returns every "class.id" section in the file. Sections whose
// suffix does not parse as a nonzero unsigned integer are reported through
// badSuffix instead of being included.
func (c *Config) Instances(badSuffix func(section string)) []Instance {
	var out []Instance

	for name := range c.sections {
		dot := strings.LastIndexByte(name, '.')
		if dot < 0 {
			continue
		}

		class, idStr := name[:dot], name[dot+1:]

		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil || id == 0 {
			if badSuffix != nil {
				badSuffix(name)
			}
			continue
		}

		out = append(out, Instance{Class: class, ID: id})
	}

	return out
}

// Section returns the "class.id" section name for an instance.
func (in Instance) Section() string {
	return in.Class + "." + strconv.FormatUint(in.ID, 10)
}

// resolveChain is the ordered list of sections consulted for a given
// instance, most to least specific, as spec.md section 4.1 requires:
// instance, class, general.
func (c *Config) resolveChain(in Instance) []string {
	return []string{in.Section(), in.Class, "general"}
}

// Resolve looks up key by walking instance, class, general in order and
// returns the first section that defines it.
func (c *Config) Resolve(in Instance, key string) (value string, ok bool) {
	for _, section := range c.resolveChain(in) {
		if !c.HasSection(section) && section != "general" {
			continue
		}
		s := c.f.Section(section)
		if s.HasKey(key) {
			return s.Key(key).String(), true
		}
	}
	return "", false
}

// ResolveMeta is like Resolve but additionally falls back to the top-level
// [supervisor] section, for keys like "user"/"group" that meta-configure
// fdbmonitor rather than a specific child (spec.md section 4.1's four-level
// fallback).
func (c *Config) ResolveMeta(in Instance, key string) (value string, ok bool) {
	if v, ok := c.Resolve(in, key); ok {
		return v, true
	}
	if c.HasSection("supervisor") {
		s := c.f.Section("supervisor")
		if s.HasKey(key) {
			return s.Key(key).String(), true
		}
	}
	return "", false
}

// Supervisor returns the "user" and "group" keys from the top-level
// [supervisor] section, used to determine the uid/gid children run as.
func (c *Config) Supervisor() (user, group string) {
	if !c.HasSection("supervisor") {
		return "", ""
	}
	s := c.f.Section("supervisor")
	return s.Key("user").String(), s.Key("group").String()
}

// ForwardedKeys returns, for the given instance, every non-meta key visible
// through the instance/class/general chain, deduplicated by name with
// instance > class > general precedence — the set forwarded to the child as
// --key=value arguments.
func (c *Config) ForwardedKeys(in Instance) map[string]string {
	out := make(map[string]string)

	// Walk least to most specific so later writes win, matching the
	// instance > class > general precedence.
	chain := c.resolveChain(in)
	for i := len(chain) - 1; i >= 0; i-- {
		section := chain[i]
		if !c.HasSection(section) && section != "general" {
			continue
		}
		s := c.f.Section(section)
		for _, k := range s.Keys() {
			if MetaKeys[k.Name()] {
				continue
			}
			out[k.Name()] = k.String()
		}
	}

	return out
}
