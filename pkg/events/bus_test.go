package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(10)
	ch := bus.Subscribe(&SubscribeOptions{Kinds: []string{KindObjectUpserted}})

	env := bus.Publish(Change{Kind: KindObjectUpserted, ObjectID: "a"})
	assert.Equal(t, int64(1), env.Cursor)

	select {
	case got := <-ch:
		assert.Equal(t, "a", got.Change.ObjectID)
		assert.False(t, got.Change.At.IsZero())
	case <-time.After(time.Second):
		t.Fatal("notification not delivered")
	}

	bus.Publish(Change{Kind: "other", ObjectID: "b"})
	select {
	case got := <-ch:
		t.Fatalf("unexpected notification %+v", got)
	default:
	}

	bus.Unsubscribe(ch)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(10)
	var dropped []string
	bus.OnDrop = func(env Envelope) { dropped = append(dropped, env.Change.ObjectID) }

	ch := bus.Subscribe(&SubscribeOptions{Buffer: 1})
	bus.Publish(Change{Kind: KindObjectUpserted, ObjectID: "first"})
	bus.Publish(Change{Kind: KindObjectUpserted, ObjectID: "second"})

	assert.Equal(t, int64(1), bus.Dropped())
	assert.Equal(t, []string{"second"}, dropped)
	assert.Equal(t, "first", (<-ch).Change.ObjectID)
}

func TestBusReplay(t *testing.T) {
	bus := NewBus(2)
	bus.Publish(Change{Kind: KindObjectUpserted, ObjectID: "1"})
	bus.Publish(Change{Kind: KindObjectUpserted, ObjectID: "2"})
	bus.Publish(Change{Kind: "other", ObjectID: "x"})
	bus.Publish(Change{Kind: KindObjectUpserted, ObjectID: "3"})
	assert.Equal(t, int64(4), bus.Cursor())

	// 只保留最近两条: cursor 3 (other) 与 cursor 4
	ch := bus.Subscribe(&SubscribeOptions{Kinds: []string{KindObjectUpserted}, Replay: true, Since: 1})
	got := <-ch
	assert.Equal(t, "3", got.Change.ObjectID)
	assert.Equal(t, int64(4), got.Cursor)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected replay %+v", extra)
	default:
	}

	bus.Publish(Change{Kind: KindObjectUpserted, ObjectID: "4"})
	assert.Equal(t, "4", (<-ch).Change.ObjectID)
}

func TestBusSubscribeWithoutReplay(t *testing.T) {
	bus := NewBus(10)
	bus.Publish(Change{Kind: KindObjectUpserted, ObjectID: "old"})

	ch := bus.Subscribe(&SubscribeOptions{Since: 0})
	select {
	case got := <-ch:
		t.Fatalf("unexpected replay %+v", got)
	default:
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus(0)
	a := bus.Subscribe(nil)
	b := bus.Subscribe(nil)
	bus.Close()

	_, ok := <-a
	assert.False(t, ok)
	_, ok = <-b
	assert.False(t, ok)
}
