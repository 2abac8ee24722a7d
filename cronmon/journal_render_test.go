package cronmon

import (
	"bytes"
	"strings"
	"testing"
)

func TestStderrJournalerFormatsSeverityAndMessage(t *testing.T) {
	var buf bytes.Buffer
	j := NewStderrJournaler(&buf)

	j.Write(EventProcessSpawned{Section: "fdbserver.1", PID: 1234})

	line := buf.String()
	if !strings.Contains(line, "INFO") {
		t.Errorf("line %q missing severity tag INFO", line)
	}
	if !strings.Contains(line, "fdbserver.1: launched as pid 1234") {
		t.Errorf("line %q missing rendered message", line)
	}
}

func TestStderrJournalerWarningSeverityTag(t *testing.T) {
	var buf bytes.Buffer
	j := NewStderrJournaler(&buf)

	j.Write(EventWarning{Component: "config", Err: "boom"})

	if !strings.Contains(buf.String(), "WARN") {
		t.Errorf("line %q missing WARN tag", buf.String())
	}
}

func TestMultiJournalerFansOutToEveryMember(t *testing.T) {
	a := &mockJournal{}
	b := &mockJournal{}
	m := MultiJournaler{a, b}

	ev := EventDeconfigured{Section: "fdbserver.9"}
	m.Write(ev)

	for name, j := range map[string]*mockJournal{"a": a, "b": b} {
		evs := j.Journals()
		if len(evs) != 1 || evs[0] != Event(ev) {
			t.Errorf("%s.Journals() = %v; want [%v]", name, evs, ev)
		}
	}
}
