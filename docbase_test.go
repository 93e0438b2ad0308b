package docbase

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docbase/internal/document"
	"docbase/internal/storage"
)

func TestCloseAndReopenRecoversState(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)

	people := db.Collection("people")
	_, err = people.InsertMany([]Document{
		{"_id": "p1", "name": "ana"},
		{"_id": "p2", "name": "bob"},
		{"_id": "p3", "name": "cam"},
	})
	require.NoError(t, err)
	_, err = people.UpdateOne(map[string]any{"_id": "p1"}, map[string]any{"$set": map[string]any{"name": "anna"}})
	require.NoError(t, err)
	_, err = people.DeleteOne(map[string]any{"_id": "p2"})
	require.NoError(t, err)

	_, err = db.Collection("cities").InsertOne(Document{"_id": "c1", "name": "lima"})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()

	names, err := db.Collections()
	require.NoError(t, err)
	assert.Equal(t, []string{"cities", "people"}, names)

	cur, err := db.Collection("people").Find(map[string]any{})
	require.NoError(t, err)
	defer cur.Close()

	docs := cur.All()
	require.Len(t, docs, 2)
	assert.Equal(t, "p1", document.ID(docs[0]))
	assert.Equal(t, "anna", docs[0]["name"])
	assert.Equal(t, "p3", document.ID(docs[1]))

	n, err := db.Collection("cities").CountDocuments(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDatesSurvivePersistence(t *testing.T) {
	dir := t.TempDir()
	when := time.Date(2024, 5, 17, 9, 30, 0, 123456789, time.UTC)

	db, err := Open(dir)
	require.NoError(t, err)
	_, err = db.Collection("events").InsertOne(Document{"_id": "e1", "at": when})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()

	doc, err := db.Collection("events").FindOne(map[string]any{"_id": "e1"})
	require.NoError(t, err)
	require.NotNil(t, doc)

	got, ok := doc["at"].(time.Time)
	require.True(t, ok, "date field should decode back to time.Time, got %T", doc["at"])
	assert.True(t, when.Equal(got))
}

func TestMemoryLocationHasNoPersistence(t *testing.T) {
	db, err := Open("memory://")
	require.NoError(t, err)

	c := db.Collection("scratch")
	_, err = c.InsertOne(Document{"_id": "x", "v": float64(1)})
	require.NoError(t, err)

	doc, err := c.FindOne(map[string]any{"_id": "x"})
	require.NoError(t, err)
	require.NotNil(t, doc)

	names, err := db.Collections()
	require.NoError(t, err)
	assert.Equal(t, []string{"scratch"}, names)
	require.NoError(t, db.Close())

	db, err = Open("memory://")
	require.NoError(t, err)
	defer db.Close()

	n, err := db.Collection("scratch").CountDocuments(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestConcurrentWritesAllDurable(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir, WithSyncWrites(false))
	require.NoError(t, err)

	c := db.Collection("jobs")
	const writers, perWriter = 8, 50

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := c.InsertOne(Document{"_id": fmt.Sprintf("w%d-%d", w, i), "w": float64(w)})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()
	require.NoError(t, db.Close())

	// A reopened database sees every acknowledged write, so the log held
	// one intact record per insert.
	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()

	n, err := db.Collection("jobs").CountDocuments(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, writers*perWriter, n)
}

func TestDurabilityRecordsFollowIssueOrder(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)

	// InsertMany enqueues all three records before waiting on any of them,
	// so the appends overlap in flight.
	_, err = db.Collection("ordered").InsertMany([]Document{
		{"_id": "w1"}, {"_id": "w2"}, {"_id": "w3"},
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	raw, err := os.ReadFile(filepath.Join(dir, "ordered"+storage.LogFileExtension))
	require.NoError(t, err)
	assert.Equal(t, "{\"_id\":\"w1\"}\n{\"_id\":\"w2\"}\n{\"_id\":\"w3\"}\n", string(raw))
}

func TestAutomaticCompactionIsTransparent(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir, WithSyncWrites(false))
	require.NoError(t, err)

	c := db.Collection("churn")
	_, err = c.InsertOne(Document{"_id": "keep", "v": float64(1)})
	require.NoError(t, err)

	// Heavy insert/delete churn leaves far more records than live
	// documents, which crosses the automatic compaction threshold.
	for i := 0; i < 100; i++ {
		id := fmt.Sprintf("tmp-%d", i)
		_, err = c.InsertOne(Document{"_id": id})
		require.NoError(t, err)
		_, err = c.DeleteOne(map[string]any{"_id": id})
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	info, err := os.Stat(filepath.Join(dir, "churn"+storage.LogFileExtension))
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(1024), "log should have been rewritten to live documents only")

	db, err = Open(dir)
	require.NoError(t, err)
	defer db.Close()

	doc, err := db.Collection("churn").FindOne(map[string]any{"_id": "keep"})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, float64(1), doc["v"])

	n, err := db.Collection("churn").CountDocuments(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExplicitCompact(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	c := db.Collection("notes")
	_, err = c.InsertOne(Document{"_id": "n1", "v": float64(1)})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		_, err = c.UpdateOne(map[string]any{"_id": "n1"}, map[string]any{"$inc": map[string]any{"v": float64(1)}})
		require.NoError(t, err)
	}
	require.NoError(t, c.Compact())

	doc, err := c.FindOne(map[string]any{"_id": "n1"})
	require.NoError(t, err)
	assert.Equal(t, float64(6), doc["v"])
}

func TestDropCollectionDeletesLog(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Collection("gone").InsertOne(Document{"_id": "g1"})
	require.NoError(t, err)
	require.NoError(t, db.DropCollection("gone"))

	_, err = os.Stat(filepath.Join(dir, "gone"+storage.LogFileExtension))
	assert.True(t, os.IsNotExist(err))

	names, err := db.Collections()
	require.NoError(t, err)
	assert.NotContains(t, names, "gone")
}

func TestCollectionHandleIsSingleton(t *testing.T) {
	db, err := Open("memory://")
	require.NoError(t, err)
	defer db.Close()

	assert.Same(t, db.Collection("one"), db.Collection("one"))
	assert.NotSame(t, db.Collection("one"), db.Collection("two"))
}

func TestCloseIsIdempotent(t *testing.T) {
	db, err := Open(t.TempDir())
	require.NoError(t, err)

	_, err = db.Collection("c").InsertOne(Document{"_id": "1"})
	require.NoError(t, err)
	require.NoError(t, db.Close())
	require.NoError(t, db.Close())
}

func TestDropDeletesStorageLocation(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")

	db, err := Open(dir)
	require.NoError(t, err)
	_, err = db.Collection("c").InsertOne(Document{"_id": "1"})
	require.NoError(t, err)
	require.NoError(t, db.Drop())

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
