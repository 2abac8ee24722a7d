package cronmon

import (
	"reflect"
	"sync"
	"testing"
)

// mockJournal is an in-memory Journaler used by every test in this package
// that needs to assert on emitted events rather than their rendered text.
type mockJournal struct {
	mutex    sync.Mutex
	journals []Event
}

var _ Journaler = (*mockJournal)(nil)

func (m *mockJournal) Write(ev Event) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.journals = append(m.journals, ev)
}

func (m *mockJournal) Journals() []Event {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]Event(nil), m.journals...)
}

// Verify asserts that journals is a prefix of what has been recorded so far
// (strict also checks there is nothing left over), consuming that prefix so
// consecutive calls check the remaining events.
func (m *mockJournal) Verify(t *testing.T, strict bool, journals []Event) []Event {
	t.Helper()

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if strict && len(journals) != len(m.journals) {
		t.Errorf("mismatch journal length, got %d, expected %d", len(m.journals), len(journals))
		return nil
	}

	for i, ev := range journals {
		if i >= len(m.journals) {
			t.Errorf("journal %d missing, expected %#v", i, ev)
			continue
		}
		if !reflect.DeepEqual(m.journals[i], ev) {
			t.Errorf("journal %d mismatch, got %#v, expected %#v", i, m.journals[i], ev)
		}
	}

	if len(journals) <= len(m.journals) {
		m.journals = m.journals[len(journals):]
	}
	return m.journals
}
