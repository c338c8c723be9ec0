package cmdbuf

import "sync/atomic"

// Mailbox is a single-slot hand-off between the network reader and the
// render tick. Store replaces whatever was there; Load always sees a whole
// buffer, either the previous one or the new one.
type Mailbox struct {
	slot  atomic.Pointer[[]byte]
	ready chan struct{}
}

// NewMailbox returns an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Store installs buf. The caller must not modify buf afterwards.
func (m *Mailbox) Store(buf []byte) {
	m.slot.Store(&buf)
	select {
	case m.ready <- struct{}{}:
	default:
	}
}

// Load returns the most recently stored buffer, or nil.
func (m *Mailbox) Load() []byte {
	if p := m.slot.Load(); p != nil {
		return *p
	}
	return nil
}

// Ready receives a value after one or more Stores. Notifications coalesce.
func (m *Mailbox) Ready() <-chan struct{} { return m.ready }
