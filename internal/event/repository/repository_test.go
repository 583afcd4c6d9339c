package repository

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/smallbiznis/hookrelay/internal/event/domain"
	"github.com/smallbiznis/hookrelay/internal/migration"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, migration.Run(db))
	return db
}

func newEvent(t *testing.T, node *snowflake.Node, eventID string) *domain.WebhookEvent {
	t.Helper()
	return &domain.WebhookEvent{
		ID:         node.Generate(),
		EventID:    eventID,
		EventType:  "payment.captured",
		EntityType: "payment",
		EntityID:   "pay_1",
		Payload:    []byte(`{"payment":{"entity":{"id":"pay_1"}}}`),
		ReceivedAt: time.Now().UTC(),
	}
}

func TestInsertEventDedupes(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ctx := context.Background()

	inserted, err := repo.InsertEvent(ctx, db, newEvent(t, node, "evt_1"))
	require.NoError(t, err)
	assert.True(t, inserted)

	// Same event id, fresh surrogate key: the unique constraint absorbs it.
	inserted, err = repo.InsertEvent(ctx, db, newEvent(t, node, "evt_1"))
	require.NoError(t, err)
	assert.False(t, inserted)

	inserted, err = repo.InsertEvent(ctx, db, newEvent(t, node, "evt_2"))
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestFindByEventID(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = repo.InsertEvent(ctx, db, newEvent(t, node, "evt_1"))
	require.NoError(t, err)

	event, err := repo.FindByEventID(ctx, db, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "payment.captured", event.EventType)

	missing, err := repo.FindByEventID(ctx, db, "evt_nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMarkProcessedFlipsOnce(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = repo.InsertEvent(ctx, db, newEvent(t, node, "evt_1"))
	require.NoError(t, err)

	first := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.MarkProcessed(ctx, db, "evt_1", first))

	event, err := repo.FindByEventID(ctx, db, "evt_1")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.True(t, event.Processed)
	require.NotNil(t, event.ProcessedAt)

	// A second mark is a no-op and keeps the original timestamp.
	require.NoError(t, repo.MarkProcessed(ctx, db, "evt_1", first.Add(time.Hour)))
	event, err = repo.FindByEventID(ctx, db, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, first, event.ProcessedAt.UTC())
}

func TestListUnprocessed(t *testing.T) {
	db := newTestDB(t)
	repo := Provide()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	ctx := context.Background()

	for _, id := range []string{"evt_1", "evt_2", "evt_3"} {
		_, err := repo.InsertEvent(ctx, db, newEvent(t, node, id))
		require.NoError(t, err)
	}
	require.NoError(t, repo.MarkProcessed(ctx, db, "evt_2", time.Now().UTC()))

	events, err := repo.ListUnprocessed(ctx, db, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "evt_1", events[0].EventID)
	assert.Equal(t, "evt_3", events[1].EventID)

	events, err = repo.ListUnprocessed(ctx, db, 1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
