package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maillens/maillens/consts"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()
	path := filepath.Join(t.TempDir(), "maillens.db")
	database, err := NewDatabase(context.Background(), path, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func sampleMessage(uid string) *Message {
	return &Message{
		Source:    consts.SourceEmlx,
		SourceUID: uid,
		MessageID: "<" + uid + "@example.com>",
		DateTS:    1_700_000_000_000,
		FromName:  "Alice Example",
		FromEmail: "alice@example.com",
		ToList:    []string{"bob@example.com"},
		CcList:    []string{},
		Subject:   "Quarterly report",
		Snippet:   "Please find the quarterly report attached.",
		BodyText:  "Please find the quarterly report attached.\nThanks, Alice",
		BodyHash:  "hash-" + uid,
		SizeBytes: 2048,
		HasAttach: true,
	}
}

func insertOne(t *testing.T, database *Database, m *Message) bool {
	t.Helper()
	ctx := context.Background()
	tx, err := database.BeginTx(ctx)
	require.NoError(t, err)
	inserted, err := database.InsertMessage(ctx, tx, m)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	return inserted
}

func TestInsertMessageDedup(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()

	m := sampleMessage("12345.emlx")
	assert.True(t, insertOne(t, database, m))
	assert.Greater(t, m.ID, int64(0))

	// Same natural key again: no new row, original untouched.
	dup := sampleMessage("12345.emlx")
	dup.Subject = "Changed subject"
	assert.False(t, insertOne(t, database, dup))

	stored, err := database.GetMessageByNaturalKey(ctx, consts.SourceEmlx, "12345.emlx")
	require.NoError(t, err)
	assert.Equal(t, "Quarterly report", stored.Subject)
	assert.Equal(t, []string{"bob@example.com"}, stored.ToList)
	assert.True(t, stored.HasAttach)

	count, err := database.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	// FTS shadow stays 1:1 with the primary table.
	ftsCount, err := database.FTSCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, ftsCount)
}

func TestInsertMessageDistinctUIDs(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()

	assert.True(t, insertOne(t, database, sampleMessage("1.emlx")))
	assert.True(t, insertOne(t, database, sampleMessage("2.emlx")))

	count, err := database.MessageCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestGetMessageByNaturalKeyNotFound(t *testing.T) {
	database := newTestDatabase(t)
	_, err := database.GetMessageByNaturalKey(context.Background(), consts.SourceEmlx, "nope.emlx")
	assert.ErrorIs(t, err, consts.ErrDBNotFound)
}

func TestSearchMessages(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()

	m1 := sampleMessage("1.emlx")
	m1.Subject = "Invoice overdue"
	m1.BodyText = "Your invoice is overdue, please pay."
	insertOne(t, database, m1)

	m2 := sampleMessage("2.emlx")
	m2.Subject = "Lunch plans"
	m2.BodyText = "Sushi on Friday?"
	insertOne(t, database, m2)

	hits, err := database.SearchMessages(ctx, "invoice", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Invoice overdue", hits[0].Subject)

	hits, err = database.SearchMessages(ctx, "sushi", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, m2.ID, hits[0].ID)

	hits, err = database.SearchMessages(ctx, "nothing", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestListMessagesNewestFirst(t *testing.T) {
	database := newTestDatabase(t)

	older := sampleMessage("old.emlx")
	older.DateTS = 1_600_000_000_000
	insertOne(t, database, older)

	newer := sampleMessage("new.emlx")
	newer.DateTS = 1_700_000_000_000
	insertOne(t, database, newer)

	list, err := database.ListMessages(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)
	assert.Equal(t, older.ID, list[1].ID)
}

func TestGetOverview(t *testing.T) {
	database := newTestDatabase(t)
	ctx := context.Background()

	o, err := database.GetOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), o.TotalMessages)

	m1 := sampleMessage("1.emlx")
	m1.DateTS = 1_600_000_000_000
	insertOne(t, database, m1)

	m2 := sampleMessage("2.emlx")
	m2.FromEmail = "carol@example.com"
	m2.DateTS = 1_700_000_000 // legacy row in epoch seconds
	insertOne(t, database, m2)

	o, err = database.GetOverview(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), o.TotalMessages)
	assert.Equal(t, int64(2), o.UniqueSenders)
	assert.Equal(t, int64(2), o.WithAttachments)
	// Second-resolution rows are lifted to milliseconds at read time.
	assert.Equal(t, int64(1_600_000_000_000), o.OldestTS)
	assert.Equal(t, int64(1_700_000_000_000), o.NewestTS)
}

func TestGetTopSenders(t *testing.T) {
	database := newTestDatabase(t)

	for i, uid := range []string{"a1.emlx", "a2.emlx", "a3.emlx"} {
		m := sampleMessage(uid)
		m.DateTS = 1_700_000_000_000 + int64(i)
		insertOne(t, database, m)
	}
	m := sampleMessage("b1.emlx")
	m.FromEmail = "carol@example.com"
	insertOne(t, database, m)

	stats, err := database.GetTopSenders(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "alice@example.com", stats[0].FromEmail)
	assert.Equal(t, int64(3), stats[0].Count)
	assert.Equal(t, int64(1_700_000_000_002), stats[0].LastTS)
}

func TestGetDormantSenders(t *testing.T) {
	database := newTestDatabase(t)

	dormant := sampleMessage("d1.emlx")
	dormant.FromEmail = "ghost@example.com"
	dormant.DateTS = 1_500_000_000_000
	insertOne(t, database, dormant)

	active := sampleMessage("a1.emlx")
	active.DateTS = 1_700_000_000_000
	insertOne(t, database, active)

	stats, err := database.GetDormantSenders(context.Background(), 1_600_000_000_000, 10)
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "ghost@example.com", stats[0].FromEmail)
}

func TestGetRecipientBuckets(t *testing.T) {
	database := newTestDatabase(t)

	one := sampleMessage("1.emlx")
	insertOne(t, database, one)

	two := sampleMessage("2.emlx")
	two.ToList = []string{"bob@example.com", "carol@example.com"}
	insertOne(t, database, two)

	three := sampleMessage("3.emlx")
	three.ToList = []string{
		"a@example.com", "b@example.com", "c@example.com",
		"d@example.com", "e@example.com", "f@example.com",
	}
	insertOne(t, database, three)

	buckets, err := database.GetRecipientBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, RecipientBucket{Bucket: "1", Count: 1}, buckets[0])
	assert.Equal(t, RecipientBucket{Bucket: "2-5", Count: 1}, buckets[1])
	assert.Equal(t, RecipientBucket{Bucket: "6+", Count: 1}, buckets[2])
}

func TestIsBusyError(t *testing.T) {
	assert.False(t, IsBusyError(nil))
	assert.False(t, IsBusyError(context.Canceled))
}
