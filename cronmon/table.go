package cronmon

// table is the bidirectional process table of spec.md section 3: three
// mappings kept in lockstep. It is only ever mutated from the Supervisor's
// Run goroutine.
type table struct {
	commands map[uint64]*Command // id -> Command, for every configured section
	pids     map[uint64]int      // id -> pid, only while running
	ids      map[int]uint64      // pid -> id, the inverse of pids
}

func newTable() *table {
	return &table{
		commands: make(map[uint64]*Command),
		pids:     make(map[uint64]int),
		ids:      make(map[int]uint64),
	}
}

// put installs or replaces the Command for id.
func (t *table) put(id uint64, cmd *Command) {
	t.commands[id] = cmd
}

// get returns the Command for id, if any.
func (t *table) get(id uint64) (*Command, bool) {
	c, ok := t.commands[id]
	return c, ok
}

// remove deletes id's Command entry. The caller must ensure id has no
// running pid first (see removePid).
func (t *table) remove(id uint64) {
	delete(t.commands, id)
}

// setRunning records that id's Command forked successfully as pid.
func (t *table) setRunning(id uint64, pid int) {
	t.pids[id] = pid
	t.ids[pid] = id
}

// pidOf returns the running pid for id, if any.
func (t *table) pidOf(id uint64) (int, bool) {
	pid, ok := t.pids[id]
	return pid, ok
}

// idOf returns the id owning pid, if any.
func (t *table) idOf(pid int) (uint64, bool) {
	id, ok := t.ids[pid]
	return id, ok
}

// removePid clears the running-pid entry for id (both directions), called
// once the child has been reaped.
func (t *table) removePid(id uint64, pid int) {
	delete(t.pids, id)
	delete(t.ids, pid)
}

// runningIDs returns every id that currently has a live pid.
func (t *table) runningIDs() []uint64 {
	out := make([]uint64, 0, len(t.pids))
	for id := range t.pids {
		out = append(out, id)
	}
	return out
}

// runningOrKnownIDs returns every id with a table entry, running or not. The
// reconciler uses this to find sections that dropped out of the
// configuration file entirely.
func (t *table) runningOrKnownIDs() []uint64 {
	out := make([]uint64, 0, len(t.commands))
	for id := range t.commands {
		out = append(out, id)
	}
	return out
}
