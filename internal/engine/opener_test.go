// ABOUTME: Tests for the queue.Opener bridging file metadata and the transcoder
package engine

import (
	"context"
	"testing"

	"github.com/nimbusaudio/playcore/internal/mediadb"
)

func TestMediaOpenerOpenSucceeds(t *testing.T) {
	db := &fakeDB{}
	opener := NewMediaOpener(db, fakePCM{})

	ctx, err := opener.Open(1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if ctx == nil {
		t.Fatalf("expected non-nil transcoder context")
	}
	opener.Close(ctx)
}

func TestMediaOpenerOpenRejectsDisabledRow(t *testing.T) {
	db := &disabledDB{disabledID: 2}
	opener := NewMediaOpener(db, fakePCM{})

	if _, err := opener.Open(2); err == nil {
		t.Fatalf("expected error opening disabled row")
	}
}

func TestMediaOpenerOpenAllowsNonDisabledRow(t *testing.T) {
	db := &disabledDB{disabledID: 2}
	opener := NewMediaOpener(db, fakePCM{})

	ctx, err := opener.Open(1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	opener.Close(ctx)
}

func TestMediaOpenerSeekDelegatesToTranscoder(t *testing.T) {
	db := &fakeDB{}
	opener := NewMediaOpener(db, fakePCM{})

	ctx, err := opener.Open(1)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := opener.Seek(ctx, 0); err != nil {
		t.Fatalf("Seek: %v", err)
	}
}

// disabledDB reports one specific id as disabled, otherwise behaves like
// fakeDB.
type disabledDB struct {
	disabledID uint32
}

func (d *disabledDB) QueryStart(ctx context.Context, filter mediadb.Filter) (mediadb.Iterator, error) {
	return &fakeIterator{}, nil
}

func (d *disabledDB) FetchByID(ctx context.Context, id uint32) (mediadb.FileMeta, error) {
	return mediadb.FileMeta{ID: id, Path: "unused", Disabled: id == d.disabledID}, nil
}
