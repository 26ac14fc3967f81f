package mcp

import "sync"

// clientState is the single source of truth for per-server status, error
// messages and live connections. One mutex takes the place of the event
// loop: every mutator rebuilds the derived catalog before releasing it, so
// readers never observe a connection without a matching status or a catalog
// entry pointing at a dead connection.
type clientState struct {
	mu       sync.RWMutex
	statuses map[string]Status
	errors   map[string]string
	conns    map[string]Connection
	catalog  *Catalog
}

func newClientState() *clientState {
	return &clientState{
		statuses: make(map[string]Status),
		errors:   make(map[string]string),
		conns:    make(map[string]Connection),
		catalog:  buildCatalog(nil, nil),
	}
}

// beginConnecting marks the id as Connecting unless a connect is already in
// flight or established. This is the guard that keeps concurrent reconcile
// passes from racing into duplicate connect attempts.
func (s *clientState) beginConnecting(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.statuses[id] {
	case StatusConnecting, StatusConnected:
		return false
	}
	s.statuses[id] = StatusConnecting
	delete(s.errors, id)
	return true
}

func (s *clientState) setConnected(id string, conn Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev := s.conns[id]; prev != nil && prev != conn {
		// Exactly one connection per server id; a stale one is disposed of
		// out of band.
		go prev.Close()
	}
	s.conns[id] = conn
	s.statuses[id] = StatusConnected
	delete(s.errors, id)
	s.rebuildLocked()
}

func (s *clientState) setError(id, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, id)
	s.statuses[id] = StatusError
	s.errors[id] = msg
	s.rebuildLocked()
}

// setErrorIf downgrades the id to Error only while conn is still its current
// connection. Events from sessions the reconciler already replaced are
// ignored.
func (s *clientState) setErrorIf(id string, conn Connection, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conns[id] != conn {
		return
	}
	delete(s.conns, id)
	s.statuses[id] = StatusError
	s.errors[id] = msg
	s.rebuildLocked()
}

func (s *clientState) setDisconnected(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, id)
	s.statuses[id] = StatusDisconnected
	delete(s.errors, id)
	s.rebuildLocked()
}

func (s *clientState) setDisconnectedIf(id string, conn Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conns[id] != conn {
		return
	}
	delete(s.conns, id)
	s.statuses[id] = StatusDisconnected
	delete(s.errors, id)
	s.rebuildLocked()
}

// settleInactive downgrades a terminal Error entry to Disconnected for a
// server that is no longer wanted. Connecting and Connected ids are left to
// their own transitions.
func (s *clientState) settleInactive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.statuses[id] != StatusError {
		return
	}
	s.statuses[id] = StatusDisconnected
	delete(s.errors, id)
}

// remove purges all bookkeeping for a server whose config entry was deleted.
func (s *clientState) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conns, id)
	delete(s.statuses, id)
	delete(s.errors, id)
	s.rebuildLocked()
}

// takeConn removes and returns the live connection for id, leaving its
// status untouched; the caller decides the follow-up transition.
func (s *clientState) takeConn(id string) (Connection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, ok := s.conns[id]
	if !ok {
		return nil, false
	}
	delete(s.conns, id)
	s.rebuildLocked()
	return conn, true
}

func (s *clientState) connection(id string) (Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[id]
	return conn, ok
}

func (s *clientState) status(id string) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.statuses[id]; ok {
		return st
	}
	return StatusDisconnected
}

func (s *clientState) knownIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.statuses))
	for id := range s.statuses {
		ids = append(ids, id)
	}
	return ids
}

func (s *clientState) liveConns() map[string]Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Connection, len(s.conns))
	for id, conn := range s.conns {
		out[id] = conn
	}
	return out
}

// Catalog returns the current derived tool catalog.
func (s *clientState) Catalog() *Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// rebuildLocked recomputes the catalog, carrying duplicate suppression
// forward from the previous build. Callers hold s.mu.
func (s *clientState) rebuildLocked() {
	s.catalog = buildCatalog(s.conns, s.catalog)
}

// Snapshot is a read-only copy of the client state for display.
type Snapshot struct {
	Statuses   map[string]Status
	Errors     map[string]string
	ToolCounts map[string]int
	Duplicates map[string][]string
}

// ConnectedCount returns the number of servers currently connected.
func (s Snapshot) ConnectedCount() int {
	n := 0
	for _, st := range s.Statuses {
		if st == StatusConnected {
			n++
		}
	}
	return n
}

func (s *clientState) snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Statuses:   make(map[string]Status, len(s.statuses)),
		Errors:     make(map[string]string, len(s.errors)),
		ToolCounts: make(map[string]int, len(s.conns)),
		Duplicates: s.catalog.Duplicates(),
	}
	for id, st := range s.statuses {
		snap.Statuses[id] = st
	}
	for id, msg := range s.errors {
		snap.Errors[id] = msg
	}
	for id := range s.conns {
		snap.ToolCounts[id] = len(s.catalog.byServer[id])
	}
	return snap
}
