package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_FillsIDAndTimeAndCallsSinks(t *testing.T) {
	var got []Event
	b := NewBus(PublisherFunc(func(e Event) { got = append(got, e) }))
	now := time.Unix(1700000000, 0).UTC()
	b.Now = func() time.Time { return now }

	b.Publish(Event{Type: TypeCampaignStatus, CampaignID: "c1"})

	require.Len(t, got, 1)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, now, got[0].At)
	assert.Equal(t, "c1", got[0].CampaignID)
}

func TestBus_SubscribersReceiveAndSlowOnesDrop(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(1)
	defer cancel()

	b.Publish(Event{Type: TypeSlotsExhausted})
	b.Publish(Event{Type: TypeSlotsExhausted})

	e := <-ch
	assert.Equal(t, TypeSlotsExhausted, e.Type)
	assert.Equal(t, uint64(1), b.Dropped())
}

func TestBus_CancelClosesChannel(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe(4)
	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)

	// publishing after cancel must not panic on a closed channel
	b.Publish(Event{Type: TypeCampaignStatus})
}

func TestRedisSink_DropsWhenQueueFull(t *testing.T) {
	s := NewRedisSink(nil, 1, nil)
	s.Publish(Event{CampaignID: "c"})
	s.Publish(Event{CampaignID: "c"})
	assert.Equal(t, uint64(1), s.Dropped())
	assert.Equal(t, "dialer:events:c", s.Channel("c"))
}
