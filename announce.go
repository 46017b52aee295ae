package moqtransport

import "sync"

// pendingAnnounce tracks one outstanding local Announce call awaiting
// ANNOUNCE_OK/ANNOUNCE_ERROR, grounded on the teacher's announcement.go
// pendingAnnouncements map.
type pendingAnnounce struct {
	namespace []string
	done      chan error
}

type announceTracker struct {
	mu       sync.Mutex
	pending  map[string]*pendingAnnounce
	accepted map[string][]string
}

func newAnnounceTracker() *announceTracker {
	return &announceTracker{
		pending:  make(map[string]*pendingAnnounce),
		accepted: make(map[string][]string),
	}
}

func namespaceKey(ns []string) string {
	k := ""
	for _, p := range ns {
		k += "\x00" + p
	}
	return k
}

func (t *announceTracker) add(ns []string) *pendingAnnounce {
	p := &pendingAnnounce{namespace: ns, done: make(chan error, 1)}
	t.mu.Lock()
	t.pending[namespaceKey(ns)] = p
	t.mu.Unlock()
	return p
}

func (t *announceTracker) resolve(ns []string, err error) bool {
	key := namespaceKey(ns)
	t.mu.Lock()
	p, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
		if err == nil {
			t.accepted[key] = ns
		}
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	p.done <- err
	return true
}

func (t *announceTracker) isAccepted(ns []string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.accepted[namespaceKey(ns)]
	return ok
}

func (t *announceTracker) withdraw(ns []string) {
	t.mu.Lock()
	delete(t.accepted, namespaceKey(ns))
	t.mu.Unlock()
}
