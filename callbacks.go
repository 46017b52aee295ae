package moqtransport

// SessionCallbacks collects the application-supplied hooks the session
// core invokes for events it has no opinion on: lifecycle transitions and
// incoming announcements it cannot decide on by itself.
type SessionCallbacks struct {
	// OnSessionEstablished fires once the control handshake completes.
	OnSessionEstablished func()

	// OnSessionClosed fires exactly once, however the session ends.
	OnSessionClosed func(code uint64, reason string)

	// OnIncomingAnnounce asks the application whether to accept an
	// ANNOUNCE for namespace. accept=false requires a non-zero errCode.
	OnIncomingAnnounce func(namespace []string) (accept bool, errCode uint64, reason string)
}

func (c *SessionCallbacks) sessionEstablished() {
	if c != nil && c.OnSessionEstablished != nil {
		c.OnSessionEstablished()
	}
}

func (c *SessionCallbacks) sessionClosed(code uint64, reason string) {
	if c != nil && c.OnSessionClosed != nil {
		c.OnSessionClosed(code, reason)
	}
}

func (c *SessionCallbacks) incomingAnnounce(namespace []string) (bool, uint64, string) {
	if c == nil || c.OnIncomingAnnounce == nil {
		return true, 0, ""
	}
	return c.OnIncomingAnnounce(namespace)
}
