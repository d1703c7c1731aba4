package session

import "sync"

const defaultMailboxCapacity = 16

// Mailbox hands room-originated messages to a session's delivery loop.
// It is an ordered bounded channel: Put never blocks and never fails,
// shedding the oldest pending message when the buffer is full. The
// delivery loop blocks on C() instead of polling.
type Mailbox struct {
	mx     sync.Mutex
	ch     chan []byte
	closed bool
}

func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = defaultMailboxCapacity
	}
	return &Mailbox{
		ch: make(chan []byte, capacity),
	}
}

// Put deposits msg for delivery. On a full buffer the oldest pending
// message is dropped to make room. After Close, Put is a no-op.
func (m *Mailbox) Put(msg []byte) {
	m.mx.Lock()
	defer m.mx.Unlock()

	if m.closed {
		return
	}
	for {
		select {
		case m.ch <- msg:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

// C is the delivery end. It yields messages in deposit order and is
// closed by Close once the buffered backlog can still be drained.
func (m *Mailbox) C() <-chan []byte {
	return m.ch
}

// Close stops accepting deposits and closes the channel. Messages
// already buffered remain receivable. Idempotent.
func (m *Mailbox) Close() {
	m.mx.Lock()
	defer m.mx.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}
