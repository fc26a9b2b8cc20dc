package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatestSendAndValue(t *testing.T) {
	l := NewLatest[int]()
	l.Send(123)
	assert.Equal(t, 123, l.Value())

	ls := NewLatest[string]()
	ls.Send("hello")
	assert.Equal(t, "hello", ls.Value())
}

func TestLatestNotification(t *testing.T) {
	l := NewLatest[string]()

	l.Send("one")
	select {
	case <-l.Channel():
	default:
		t.Fatal("should have received a notification")
	}

	// Consumed; no further notification pending.
	select {
	case <-l.Channel():
		t.Fatal("channel should be empty after consuming")
	default:
	}
}

func TestLatestOverwrites(t *testing.T) {
	l := NewLatest[int]()

	// Multiple sends without a reader never block and only the newest
	// value survives.
	for i := 1; i <= 10; i++ {
		l.Send(i)
	}
	<-l.Channel()
	assert.Equal(t, 10, l.Value())
}
