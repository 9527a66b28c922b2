package sender

import "sync"

// OutgoingMessage is a captured outbound message together with its
// completion continuation. Exactly one of Complete or Abort fires, exactly
// once, per instance. Timestamp is sender-assigned and used as the
// idempotency and ordering key on the wire.
type OutgoingMessage struct {
	Destinations []string
	Body         string
	Timestamp    int64

	mu     sync.Mutex
	done   bool
	onSent []func()
	onDone func(err error)
}

// NewOutgoingMessage builds an outgoing message. done receives nil on
// completion or the abort reason; it may be nil.
func NewOutgoingMessage(destinations []string, body string, timestamp int64, done func(err error)) *OutgoingMessage {
	return &OutgoingMessage{
		Destinations: destinations,
		Body:         body,
		Timestamp:    timestamp,
		onDone:       done,
	}
}

// OnSent registers a listener fired after a successful transport send,
// before the completion continuation.
func (m *OutgoingMessage) OnSent(fn func()) {
	m.mu.Lock()
	m.onSent = append(m.onSent, fn)
	m.mu.Unlock()
}

// Complete fires the sent listeners and then the completion continuation.
// No-op if the message already completed or aborted.
func (m *OutgoingMessage) Complete() {
	m.finish(nil)
}

// Abort fires the continuation with the failure reason. No-op if the
// message already completed or aborted.
func (m *OutgoingMessage) Abort(err error) {
	m.finish(err)
}

func (m *OutgoingMessage) finish(err error) {
	m.mu.Lock()
	if m.done {
		m.mu.Unlock()
		return
	}
	m.done = true
	sent := m.onSent
	done := m.onDone
	m.mu.Unlock()

	if err == nil {
		for _, fn := range sent {
			fn()
		}
	}
	if done != nil {
		done(err)
	}
}
