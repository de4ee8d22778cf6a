package event

import (
	"context"
	"errors"
	"testing"

	"github.com/erp/stockledger/internal/domain/shared"
	"github.com/erp/stockledger/tests/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type panickingHandler struct{}

func (panickingHandler) Handle(ctx context.Context, event shared.DomainEvent) error {
	panic("boom")
}

func (panickingHandler) EventTypes() []string { return []string{"test.event"} }

func TestInMemoryEventBus_Publish(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers to typed and wildcard handlers", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		typed := testutil.NewMockEventHandler("test.event")
		other := testutil.NewMockEventHandler("other.event")
		all := testutil.NewMockEventHandler()

		bus.Subscribe(typed)
		bus.Subscribe(other)
		bus.Subscribe(all)

		require.NoError(t, bus.Publish(ctx, testutil.NewTestEvent("test.event")))

		assert.Equal(t, 1, typed.HandledCount())
		assert.Equal(t, 0, other.HandledCount())
		assert.Equal(t, 1, all.HandledCount())
	})

	t.Run("keeps delivering after a handler fails and reports the error", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		failing := testutil.NewMockEventHandler("test.event")
		failing.SetError(errors.New("handler down"))
		healthy := testutil.NewMockEventHandler("test.event")

		bus.Subscribe(failing)
		bus.Subscribe(healthy)

		err := bus.Publish(ctx, testutil.NewTestEvent("test.event"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "handler down")
		assert.Equal(t, 1, healthy.HandledCount())
	})

	t.Run("recovers from a panicking handler", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		healthy := testutil.NewMockEventHandler("test.event")
		bus.Subscribe(panickingHandler{})
		bus.Subscribe(healthy)

		err := bus.Publish(ctx, testutil.NewTestEvent("test.event"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "panicked")
		assert.Equal(t, 1, healthy.HandledCount())
	})

	t.Run("unsubscribed handlers receive nothing", func(t *testing.T) {
		bus := NewInMemoryEventBus(zap.NewNop())
		h := testutil.NewMockEventHandler("test.event")
		bus.Subscribe(h)
		bus.Unsubscribe(h)

		require.NoError(t, bus.Publish(ctx, testutil.NewTestEvent("test.event")))
		assert.Equal(t, 0, h.HandledCount())
	})
}

func TestInMemoryEventBus_Lifecycle(t *testing.T) {
	bus := NewInMemoryEventBus(nil)
	assert.False(t, bus.Running())

	require.NoError(t, bus.Start(context.Background()))
	assert.True(t, bus.Running())

	require.NoError(t, bus.Stop(context.Background()))
	assert.False(t, bus.Running())
}

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()
	a := testutil.NewMockEventHandler()
	b := testutil.NewMockEventHandler()

	r.Register(a, "x", "y")
	r.Register(b)

	assert.Len(t, r.GetHandlers("x"), 2)
	assert.Len(t, r.GetHandlers("z"), 1)
	assert.Equal(t, 2, r.Count())

	r.Unregister(a)
	assert.Len(t, r.GetHandlers("x"), 1)
	assert.Equal(t, 1, r.Count())
}
