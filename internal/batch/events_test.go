package batch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroker_PublishSubscribe(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("batch-a")
	defer cancel()
	other, cancelOther := b.Subscribe("batch-b")
	defer cancelOther()

	b.Publish(Event{BatchID: "batch-a", Clip: 1, Stage: "compose", Status: StatusConverting})

	select {
	case ev := <-ch:
		assert.Equal(t, 1, ev.Clip)
		assert.Equal(t, "compose", ev.Stage)
		assert.False(t, ev.Time.IsZero())
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case ev := <-other:
		t.Fatalf("unexpected event for other batch: %+v", ev)
	default:
	}
}

func TestBroker_DropsWhenFull(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("batch-a")
	defer cancel()

	for i := 0; i < eventBuffer+10; i++ {
		b.Publish(Event{BatchID: "batch-a", Clip: i})
	}
	assert.Len(t, ch, eventBuffer)
}

func TestBroker_CancelAndClose(t *testing.T) {
	b := NewBroker()
	ch, cancel := b.Subscribe("batch-a")
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	ch2, cancel2 := b.Subscribe("batch-a")
	b.Close("batch-a")
	_, open = <-ch2
	assert.False(t, open)
	require.NotPanics(t, cancel2)

	// Publishing to a closed batch is a no-op.
	require.NotPanics(t, func() { b.Publish(Event{BatchID: "batch-a"}) })
}
