// ABOUTME: Tests for query-driven queue construction and queue_make replacement
package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/nimbusaudio/playcore/internal/mediadb"
	"github.com/nimbusaudio/playcore/internal/queue"
)

func TestBuildQueueFailsOnUnknownField(t *testing.T) {
	db := &fakeDB{}
	opener := NewMediaOpener(db, fakePCM{})

	_, err := BuildQueue(db, opener, nil, "bogus:value", mediadb.SortNone)
	if err == nil {
		t.Fatalf("expected parse error for unknown field")
	}
}

func TestBuildQueueFailsOnEmptyResult(t *testing.T) {
	db := &fakeDB{}
	opener := NewMediaOpener(db, fakePCM{})

	_, err := BuildQueue(db, opener, nil, "title:nothing", mediadb.SortNone)
	if !errors.Is(err, queue.ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestBuildQueueReturnsMatchedIDs(t *testing.T) {
	db := &fakeDB{rows: []uint32{5, 6, 7}}
	opener := NewMediaOpener(db, fakePCM{})

	q, err := BuildQueue(db, opener, nil, "title:anything", mediadb.SortName)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	if q.Len() != 3 {
		t.Fatalf("expected 3 items, got %d", q.Len())
	}
}

func TestQueueMakeReplacesQueueContents(t *testing.T) {
	e, _, _, cleanup := newEngine(t, []uint32{1, 2})
	defer cleanup()

	e.db.(*fakeDB).rows = []uint32{9, 10}

	if err := e.QueueMake("title:anything", mediadb.SortNone); err != nil {
		t.Fatalf("QueueMake: %v", err)
	}

	ids := map[uint32]bool{}
	for _, it := range e.queue.ToSlice() {
		ids[it.ID] = true
	}
	if !ids[9] || !ids[10] || len(ids) != 2 {
		t.Fatalf("expected queue replaced with ids 9,10, got %+v", ids)
	}
}

func TestQueueMakeFailsWithoutMediaDB(t *testing.T) {
	e, _, _, cleanup := newEngine(t, []uint32{1})
	defer cleanup()
	e.db = nil

	if err := e.QueueMake("title:anything", mediadb.SortNone); err == nil {
		t.Fatalf("expected error with no media database configured")
	}
}

// titledDB reports a fixed title per id, so tests can exercise the
// free-text fuzzy-ranking pre-sort.
type titledDB struct {
	fakeDB
	titles map[uint32]string
}

func (d *titledDB) FetchByID(ctx context.Context, id uint32) (mediadb.FileMeta, error) {
	return mediadb.FileMeta{ID: id, Title: d.titles[id]}, nil
}

func TestBuildQueueRanksFreeTextByFuzzyCloseness(t *testing.T) {
	db := &titledDB{
		fakeDB: fakeDB{rows: []uint32{1, 2, 3}},
		titles: map[uint32]string{
			1: "Purple Rain",
			2: "Thunderstruck",
			3: "Thunder Road",
		},
	}
	opener := NewMediaOpener(db, fakePCM{})

	q, err := BuildQueue(db, opener, nil, "thunder", mediadb.SortNone)
	if err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}

	ids := q.ToSlice()
	for _, it := range ids {
		if it.ID == 1 {
			t.Fatalf("unrelated title should have been fuzzy-filtered out: %+v", ids)
		}
	}
	if len(ids) != 2 || ids[0].ID != 3 || ids[1].ID != 2 {
		t.Fatalf("expected closest title (id 3) queued first, then id 2: %+v", ids)
	}
}
