// ABOUTME: Bridges the media database and transcoder into a queue.Opener
// ABOUTME: Grounded on player.c's queue_open: fetch metadata, skip disabled rows, set up the transcoder
package engine

import (
	"context"
	"fmt"

	"github.com/nimbusaudio/playcore/internal/mediadb"
	"github.com/nimbusaudio/playcore/internal/queue"
	"github.com/nimbusaudio/playcore/internal/transcoder"
)

// MediaOpener implements queue.Opener by resolving an item id to file
// metadata and handing it to the transcoder. A disabled row is reported as
// an open failure so Next/Prev's skip-forward logic takes over, per
// spec.md SPEC_FULL.md's disabled-item supplement.
type MediaOpener struct {
	db mediadb.DB
	tc transcoder.Transcoder
}

var _ queue.Opener = (*MediaOpener)(nil)

// NewMediaOpener creates an Opener backed by db and tc.
func NewMediaOpener(db mediadb.DB, tc transcoder.Transcoder) *MediaOpener {
	return &MediaOpener{db: db, tc: tc}
}

// Open resolves id to metadata and sets up a transcoder context.
func (o *MediaOpener) Open(id uint32) (any, error) {
	meta, err := o.db.FetchByID(context.Background(), id)
	if err != nil {
		return nil, fmt.Errorf("engine: fetch item %d: %w", id, err)
	}
	if meta.Disabled {
		return nil, fmt.Errorf("engine: item %d is disabled", id)
	}
	ctx, err := o.tc.Setup(meta)
	if err != nil {
		return nil, fmt.Errorf("engine: transcoder setup for item %d: %w", id, err)
	}
	return ctx, nil
}

// Seek re-seeks an open context to ms, used by Queue.Next's Song-repeat
// path to restart an already-open item without reopening it.
func (o *MediaOpener) Seek(ctx any, ms int) error {
	_, err := o.tc.Seek(ctx, ms)
	return err
}

// Close releases a transcoder context.
func (o *MediaOpener) Close(ctx any) {
	o.tc.Cleanup(ctx)
}
