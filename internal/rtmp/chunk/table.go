package chunk

// Table is the shared per-connection registry of ChunkStreamState, keyed by
// CSID. Decoder uses it to track reassembly state for every chunk stream
// the peer has opened; the same table can be inspected (e.g. for metrics or
// tests) without disturbing in-flight message assembly.
type Table struct {
	states map[uint32]*ChunkStreamState
}

// NewTable returns an empty channel table.
func NewTable() *Table {
	return &Table{states: make(map[uint32]*ChunkStreamState)}
}

// Get returns the state for csid, or nil if the channel has never been seen.
func (t *Table) Get(csid uint32) *ChunkStreamState {
	return t.states[csid]
}

// GetOrCreate returns the existing state for csid, creating a fresh one the
// first time a channel is referenced.
func (t *Table) GetOrCreate(csid uint32) *ChunkStreamState {
	st := t.states[csid]
	if st == nil {
		st = &ChunkStreamState{CSID: csid}
		t.states[csid] = st
	}
	return st
}

// Delete removes a channel's state entirely, e.g. once its stream has been
// unpublished and will not be reused.
func (t *Table) Delete(csid uint32) {
	delete(t.states, csid)
}
