package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(m *Mailbox) []string {
	var out []string
	for {
		select {
		case msg, ok := <-m.C():
			if !ok {
				return out
			}
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestMailbox_PreservesOrder(t *testing.T) {
	m := NewMailbox(8)
	for i := 0; i < 5; i++ {
		m.Put([]byte(fmt.Sprintf("msg-%d", i)))
	}

	got := drain(m)
	require.Len(t, got, 5)
	for i, msg := range got {
		assert.Equal(t, fmt.Sprintf("msg-%d", i), msg)
	}
}

func TestMailbox_ShedsOldestOnOverflow(t *testing.T) {
	m := NewMailbox(3)
	for i := 0; i < 6; i++ {
		m.Put([]byte(fmt.Sprintf("msg-%d", i)))
	}

	// capacity 3: the three oldest were shed to admit the newest
	got := drain(m)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"msg-3", "msg-4", "msg-5"}, got)
}

func TestMailbox_PutAfterCloseIsNoop(t *testing.T) {
	m := NewMailbox(4)
	m.Put([]byte("before"))
	m.Close()
	m.Put([]byte("after"))

	msg, ok := <-m.C()
	require.True(t, ok)
	assert.Equal(t, "before", string(msg))

	_, ok = <-m.C()
	assert.False(t, ok, "channel should be closed after the backlog drains")
}

func TestMailbox_CloseIsIdempotent(t *testing.T) {
	m := NewMailbox(4)
	m.Close()
	assert.NotPanics(t, func() {
		m.Close()
		m.Put([]byte("late"))
	})
}
