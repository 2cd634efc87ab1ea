package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedReplaysCurrentValue(t *testing.T) {
	f := NewFeed[int]()
	f.Publish(1)

	ch, cancel := f.Subscribe()
	defer cancel()

	assert.Equal(t, 1, <-ch)
}

func TestFeedLatestWins(t *testing.T) {
	f := NewFeed[int]()
	ch, cancel := f.Subscribe()
	defer cancel()

	for i := 1; i <= 5; i++ {
		f.Publish(i)
	}

	assert.Equal(t, 5, <-ch)
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra value %d", v)
	default:
	}

	cur, ok := f.Current()
	require.True(t, ok)
	assert.Equal(t, 5, cur)
}

func TestFeedCancelAndClose(t *testing.T) {
	f := NewFeed[string]()
	ch1, cancel1 := f.Subscribe()
	ch2, _ := f.Subscribe()

	cancel1()
	cancel1()
	_, open := <-ch1
	assert.False(t, open)

	f.Close()
	_, open = <-ch2
	assert.False(t, open)

	f.Publish("ignored")
	ch3, _ := f.Subscribe()
	_, open = <-ch3
	assert.False(t, open)
}

func TestFeedEmptyCurrent(t *testing.T) {
	f := NewFeed[string]()
	_, ok := f.Current()
	assert.False(t, ok)
}
