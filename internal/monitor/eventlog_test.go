package monitor

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-monitor/internal/models"
)

func TestEventLog_NewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(DefaultEventLimit, nil, testLogger(t))

	for i := 0; i < 150; i++ {
		log.Append(ctx, models.NewEvent(nil, "", models.StatusInfo, fmt.Sprintf("event %d", i)))
	}

	entries := log.Entries()
	require.Len(t, entries, DefaultEventLimit)
	assert.Equal(t, "event 149", entries[0].Message)
	assert.Equal(t, "event 50", entries[DefaultEventLimit-1].Message)
}

func TestEventLog_BatchKeepsChronologicalOrder(t *testing.T) {
	ctx := context.Background()
	log := NewEventLog(10, nil, testLogger(t))

	log.Append(ctx,
		models.NewEvent(nil, "", models.StatusError, "first"),
		models.NewEvent(nil, "", models.StatusAutoPaused, "second"),
	)

	entries := log.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "second", entries[0].Message)
	assert.Equal(t, "first", entries[1].Message)
}

func TestEventLog_PersistsAndReloads(t *testing.T) {
	ctx := context.Background()
	store := &memStore{}

	log := NewEventLog(5, store, testLogger(t))
	for i := 0; i < 7; i++ {
		log.Append(ctx, models.NewEvent(nil, "", models.StatusSuccess, fmt.Sprintf("e%d", i)))
	}

	reloaded := NewEventLog(5, store, testLogger(t))
	require.NoError(t, reloaded.Load(ctx))
	entries := reloaded.Entries()
	require.Len(t, entries, 5)
	assert.Equal(t, "e6", entries[0].Message)

	reloaded.Clear(ctx)
	assert.Empty(t, reloaded.Entries())
	events, err := store.LoadEvents(ctx)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventLog_EntriesIsACopy(t *testing.T) {
	log := NewEventLog(0, nil, nil)
	log.Append(context.Background(), models.NewEvent(nil, "", models.StatusInfo, "original"))

	entries := log.Entries()
	entries[0].Message = "changed"

	assert.Equal(t, "original", log.Entries()[0].Message)
}
