package handler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutbox_DropsWhenFull(t *testing.T) {
	gw := &fakeGateway{}
	o := NewOutbox(gw, 2, time.Second)
	ctx := context.Background()

	assert.True(t, o.SendMessage(ctx, 1, "a"))
	assert.True(t, o.SendMessage(ctx, 2, "b"))
	assert.False(t, o.SendMessage(ctx, 3, "c"))
	assert.Equal(t, int64(1), o.Dropped())
	assert.Equal(t, 2, o.Pending())
}

func TestOutbox_RunDeliversAndDrainsOnShutdown(t *testing.T) {
	gw := &fakeGateway{}
	o := NewOutbox(gw, 8, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	o.SendMessage(context.Background(), 1, "hello")
	o.AssignRole(context.Background(), 10, 20, 30)
	require.Eventually(t, func() bool { return len(gw.ops()) == 2 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("outbox did not stop")
	}

	// Commands queued after shutdown are executed by an explicit drain.
	o.DeleteChannel(context.Background(), 5)
	o.drain()
	assert.Equal(t, []string{"send", "role", "delete"}, gw.ops())
}

func TestOutbox_FailuresDoNotStopWorker(t *testing.T) {
	gw := &fakeGateway{sendErr: errors.New("unknown channel")}
	o := NewOutbox(gw, 8, time.Second)

	o.SendMessage(context.Background(), 1, "a")
	o.SendMessage(context.Background(), 2, "b")
	o.drain()

	assert.Equal(t, []string{"send", "send"}, gw.ops())
	assert.Equal(t, 0, o.Pending())
}
