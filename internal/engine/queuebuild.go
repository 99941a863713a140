// ABOUTME: Builds queues from a textual query, per spec.md §4.B queue_make
// ABOUTME: Shared by the engine's fresh-load path and queue_add's sub-ring construction
package engine

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/nimbusaudio/playcore/internal/mediadb"
	"github.com/nimbusaudio/playcore/internal/queue"
)

// BuildQueue runs predicate through the query parser, enumerates matching
// rows through db, and returns a standalone Queue over their ids. Used both
// to load the player's main queue and to build a sub-ring for QueueAdd.
// Fails on parse error or an empty result, per spec.md §4.B.
func BuildQueue(db mediadb.DB, opener queue.Opener, rng *rand.Rand, predicate string, sort mediadb.SortKey) (*queue.Queue, error) {
	ids, err := fetchIDs(db, predicate, sort)
	if err != nil {
		return nil, err
	}
	return queue.Make(opener, rng, ids)
}

func fetchIDs(db mediadb.DB, predicate string, sort mediadb.SortKey) ([]uint32, error) {
	filter, err := mediadb.ParseQuery(predicate, sort)
	if err != nil {
		return nil, fmt.Errorf("engine: parse query: %w", err)
	}

	ctx := context.Background()
	it, err := db.QueryStart(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("engine: query: %w", err)
	}
	defer it.Close()

	var ids []uint32
	for {
		id, ok, err := it.Next()
		if err != nil {
			return nil, fmt.Errorf("engine: iterate query results: %w", err)
		}
		if !ok {
			break
		}
		ids = append(ids, id)
	}

	if free, ok := mediadb.FreeTextQuery(predicate); ok {
		ids, err = rankByFreeText(ctx, db, free, ids)
		if err != nil {
			return nil, err
		}
	}

	return ids, nil
}

// rankByFreeText pre-sorts ids by fuzzy closeness of their titles to a
// field-less predicate's free text, per SPEC_FULL.md's fuzzy-ranking
// supplement. Ids are grouped by title into per-title queues before
// RankFreeText reorders the title strings, so duplicate titles across
// albums each keep their own id rather than collapsing onto one.
func rankByFreeText(ctx context.Context, db mediadb.DB, free string, ids []uint32) ([]uint32, error) {
	titles := make([]string, len(ids))
	byTitle := make(map[string][]uint32, len(ids))
	for i, id := range ids {
		meta, err := db.FetchByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("engine: fetch item %d for ranking: %w", id, err)
		}
		titles[i] = meta.Title
		byTitle[meta.Title] = append(byTitle[meta.Title], id)
	}

	ranked := mediadb.RankFreeText(free, titles)
	out := make([]uint32, 0, len(ranked))
	for _, title := range ranked {
		queued := byTitle[title]
		if len(queued) == 0 {
			continue
		}
		out = append(out, queued[0])
		byTitle[title] = queued[1:]
	}
	return out, nil
}

// QueueMake replaces the player's queue in place with the result of
// predicate/sort, per spec.md §4.B queue_make. Playback must be stopped
// first by the caller; QueueMake does not itself tear down outputs.
func (e *Engine) QueueMake(predicate string, sort mediadb.SortKey) error {
	return e.submit("queue_make", func() (int, error) {
		if e.db == nil {
			return 0, fmt.Errorf("engine: no media database configured")
		}
		ids, err := fetchIDs(e.db, predicate, sort)
		if err != nil {
			return 0, err
		}
		if err := e.queue.Load(ids); err != nil {
			return 0, err
		}
		e.notify()
		return 0, nil
	}, nil)
}
