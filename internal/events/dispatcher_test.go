package events

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherCallsEveryHandler(t *testing.T) {
	d := NewInMemoryDispatcher()
	var calls []string
	errFirst := errors.New("first failed")

	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		calls = append(calls, "first")
		return errFirst
	})
	d.Subscribe(EventTicketCreated, func(context.Context, Event) error {
		calls = append(calls, "second")
		return nil
	})
	d.Subscribe(EventTicketAssigned, func(context.Context, Event) error {
		calls = append(calls, "other")
		return nil
	})

	err := d.Publish(context.Background(), Event{Type: EventTicketCreated})
	assert.ErrorIs(t, err, errFirst)
	assert.Equal(t, []string{"first", "second"}, calls)

	assert.NoError(t, d.Publish(context.Background(), Event{Type: EventUserRegistered}))
}

func TestDispatcherRecoversHandlerPanic(t *testing.T) {
	d := NewInMemoryDispatcher()
	called := false

	d.Subscribe(EventTicketStatusChanged, func(context.Context, Event) error {
		panic("boom")
	})
	d.Subscribe(EventTicketStatusChanged, func(context.Context, Event) error {
		called = true
		return nil
	})
	d.Subscribe(EventTicketStatusChanged, nil)

	err := d.Publish(context.Background(), Event{Type: EventTicketStatusChanged})
	assert.ErrorContains(t, err, "panic: boom")
	assert.ErrorContains(t, err, string(EventTicketStatusChanged))
	assert.True(t, called)
}
