package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubDeliversToTableSubscribers(t *testing.T) {
	hub := NewHub()

	var leads, notes []Change
	_, err := hub.Subscribe(TableLeads, func(c Change) { leads = append(leads, c) })
	require.NoError(t, err)
	_, err = hub.Subscribe(TableNotes, func(c Change) { notes = append(notes, c) })
	require.NoError(t, err)

	require.NoError(t, hub.Publish(context.Background(), Change{Type: ChangeInsert, Table: TableLeads, New: Row{"id": "a"}}))

	assert.Len(t, leads, 1)
	assert.Empty(t, notes)
	assert.Equal(t, "a", leads[0].New.String("id"))
}

func TestHubUnsubscribeFromHandler(t *testing.T) {
	hub := NewHub()

	calls := 0
	var sub Subscription
	sub, err := hub.Subscribe(TableLeads, func(Change) {
		calls++
		_ = hub.Unsubscribe(sub)
	})
	require.NoError(t, err)

	_ = hub.Publish(context.Background(), Change{Table: TableLeads})
	_ = hub.Publish(context.Background(), Change{Table: TableLeads})

	assert.Equal(t, 1, calls)
}

func TestRowAccessors(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := Row{
		"name":    "Ana",
		"id":      int64(42),
		"ia":      int64(1),
		"ia_json": true,
		"at":      now.Format(time.RFC3339Nano),
		"at_time": now,
		"nothing": nil,
	}

	assert.Equal(t, "Ana", row.String("name"))
	assert.Equal(t, "42", row.String("id"))
	assert.Equal(t, "", row.String("nothing"))
	assert.True(t, row.Bool("ia"))
	assert.True(t, row.Bool("ia_json"))
	assert.False(t, row.Bool("nothing"))
	assert.True(t, row.Time("at").Equal(now))
	assert.True(t, row.Time("at_time").Equal(now))
	assert.True(t, row.Time("missing").IsZero())
	assert.True(t, row.Has("nothing"))
	assert.False(t, row.Has("missing"))
}
