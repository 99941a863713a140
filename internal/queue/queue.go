// ABOUTME: Source queue: playlist + shuffle rings over media items
// ABOUTME: Owns cursor management (open/next/prev/seek) for the audio pump
package queue

import (
	"errors"
	"fmt"
	"math/rand"
)

// ErrEmpty is returned by Make when a query matches no rows.
var ErrEmpty = errors.New("queue: query matched no items")

// ErrNoOpenCandidate is returned by Next/Prev when every candidate item in
// the wrap range failed to open.
var ErrNoOpenCandidate = errors.New("queue: no item could be opened")

// RepeatMode mirrors spec.md's RepeatMode enum.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatSong
	RepeatAll
)

// Opener resolves an item id to transcoder context, or fails (e.g. the
// underlying media row is disabled, or the file can't be opened). Seek
// re-seeks an already-open context back to a millisecond offset, used by
// Next's Song-repeat path to restart an open item without reopening it.
type Opener interface {
	Open(id uint32) (ctx any, err error)
	Seek(ctx any, ms int) error
	Close(ctx any)
}

// Item is a queue entry. Exported fields mirror spec.md's SourceItem
// verbatim; Queue owns the ring linkage, callers own stream/output/end/ctx
// bookkeeping via the accessors the pump uses.
type Item struct {
	ID uint32

	StreamStart int64 // sample index the item's first sample was scheduled at
	OutputStart int64 // sample index the item becomes "now playing"
	End         int64 // last emitted sample index, 0 = not yet ended
	Ctx         any   // transcoder handle, present iff item is open

	PlayNext *Item // transient forward link, cur_playing -> cur_streaming chain

	plPrev, plNext           *Item
	shufflePrev, shuffleNext *Item
}

// Queue is the doubly-ringed playlist. Every field is owned by the player
// thread; the spec's ownership rules mean no internal locking is needed.
type Queue struct {
	opener Opener
	rng    *rand.Rand

	sourceHead  *Item
	shuffleHead *Item

	curPlaying   *Item
	curStreaming *Item

	Repeat  RepeatMode
	Shuffle bool

	count int
}

// New creates an empty queue. rng drives Fisher-Yates reshuffles; pass
// rand.New(rand.NewSource(seed)) for determinism in tests, or a
// process-global source in production.
func New(opener Opener, rng *rand.Rand) *Queue {
	return &Queue{opener: opener, rng: rng}
}

// Len returns the number of items currently in the queue.
func (q *Queue) Len() int { return q.count }

// CurPlaying returns the item currently promoted to "now playing", or nil.
func (q *Queue) CurPlaying() *Item { return q.curPlaying }

// CurStreaming returns the item the pump is currently reading from, or nil.
func (q *Queue) CurStreaming() *Item { return q.curStreaming }

// SetCurPlaying installs the "now playing" cursor (used by the pump).
func (q *Queue) SetCurPlaying(it *Item) { q.curPlaying = it }

// SetCurStreaming installs the streaming cursor (used by the pump/engine).
func (q *Queue) SetCurStreaming(it *Item) { q.curStreaming = it }

// SourceHead returns the playlist ring's head, or nil if empty.
func (q *Queue) SourceHead() *Item { return q.sourceHead }

// ShuffleHead returns the shuffle ring's head, or nil if empty.
func (q *Queue) ShuffleHead() *Item { return q.shuffleHead }

// splice links a linear slice of fresh items into a new cyclic ring using
// the given next/prev field accessors, and returns the ring's head.
func spliceRing(items []*Item, next func(*Item) **Item, prev func(*Item) **Item) *Item {
	if len(items) == 0 {
		return nil
	}
	for i, it := range items {
		n := items[(i+1)%len(items)]
		p := items[(i-1+len(items))%len(items)]
		*next(it) = n
		*prev(it) = p
	}
	return items[0]
}

func plNextPtr(it *Item) **Item   { return &it.plNext }
func plPrevPtr(it *Item) **Item   { return &it.plPrev }
func shufNextPtr(it *Item) **Item { return &it.shuffleNext }
func shufPrevPtr(it *Item) **Item { return &it.shufflePrev }

// Make builds a fresh queue from already-resolved ids (the DB query + query
// parser step lives in internal/mediadb; Queue itself only links items).
// Fails if ids is empty.
func Make(opener Opener, rng *rand.Rand, ids []uint32) (*Queue, error) {
	if len(ids) == 0 {
		return nil, ErrEmpty
	}

	q := New(opener, rng)
	items := make([]*Item, len(ids))
	for i, id := range ids {
		items[i] = &Item{ID: id}
	}

	q.sourceHead = spliceRing(items, plNextPtr, plPrevPtr)
	q.shuffleHead = spliceRing(items, shufNextPtr, shufPrevPtr)
	q.count = len(items)

	return q, nil
}

// Load replaces the queue's contents in place with fresh items built from
// ids, preserving Repeat/Shuffle and the existing opener/rng. Used by
// queue_make to rebuild an existing Queue (whose pointer the pump and
// engine already hold) rather than allocating a new one. Fails, leaving
// the queue empty, if ids is empty.
func (q *Queue) Load(ids []uint32) error {
	q.Clear()
	if len(ids) == 0 {
		return ErrEmpty
	}

	items := make([]*Item, len(ids))
	for i, id := range ids {
		items[i] = &Item{ID: id}
	}

	q.sourceHead = spliceRing(items, plNextPtr, plPrevPtr)
	q.shuffleHead = spliceRing(items, shufNextPtr, shufPrevPtr)
	q.count = len(items)
	return nil
}

// Add splices an already-built cyclic sub-ring (built by Make on a
// standalone queue and unlinked via ToSlice, or constructed directly) before
// source_head in both rings. If the queue was empty, the sub-ring becomes
// the queue. The appended items get an independent Fisher-Yates shuffle
// order.
func (q *Queue) Add(sub *Queue) {
	if sub == nil || sub.count == 0 {
		return
	}

	subItems := sub.ToSlice()

	if q.count == 0 {
		q.sourceHead = spliceRing(subItems, plNextPtr, plPrevPtr)
		shuffled := shuffledCopy(q.rng, subItems)
		q.shuffleHead = spliceRing(shuffled, shufNextPtr, shufPrevPtr)
		q.count = len(subItems)
		return
	}

	spliceBeforePlaylist(q, subItems)

	shuffled := shuffledCopy(q.rng, subItems)
	spliceBeforeShuffle(q, shuffled)

	q.count += len(subItems)
}

func spliceBeforePlaylist(q *Queue, items []*Item) {
	for i, it := range items {
		it.plNext = items[(i+1)%len(items)]
		it.plPrev = items[(i-1+len(items))%len(items)]
	}
	head := q.sourceHead
	tailOfSub := items[len(items)-1]
	firstOfSub := items[0]

	prevOfHead := head.plPrev
	prevOfHead.plNext = firstOfSub
	firstOfSub.plPrev = prevOfHead
	tailOfSub.plNext = head
	head.plPrev = tailOfSub
}

func spliceBeforeShuffle(q *Queue, items []*Item) {
	for i, it := range items {
		it.shuffleNext = items[(i+1)%len(items)]
		it.shufflePrev = items[(i-1+len(items))%len(items)]
	}
	head := q.shuffleHead
	tailOfSub := items[len(items)-1]
	firstOfSub := items[0]

	prevOfHead := head.shufflePrev
	prevOfHead.shuffleNext = firstOfSub
	firstOfSub.shufflePrev = prevOfHead
	tailOfSub.shuffleNext = head
	head.shufflePrev = tailOfSub
}

func shuffledCopy(rng *rand.Rand, items []*Item) []*Item {
	out := make([]*Item, len(items))
	copy(out, items)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// ToSlice walks the playlist ring from sourceHead and returns it as a slice,
// without mutating linkage.
func (q *Queue) ToSlice() []*Item {
	if q.sourceHead == nil {
		return nil
	}
	out := make([]*Item, 0, q.count)
	curr := q.sourceHead
	for i := 0; i < q.count; i++ {
		out = append(out, curr)
		curr = curr.plNext
	}
	return out
}

// Clear breaks both rings, closing any open transcoder context, and resets
// heads and cursors.
func (q *Queue) Clear() {
	items := q.ToSlice()
	for _, it := range items {
		q.CloseItem(it)
		it.plNext, it.plPrev = nil, nil
		it.shuffleNext, it.shufflePrev = nil, nil
		it.PlayNext = nil
	}
	q.sourceHead = nil
	q.shuffleHead = nil
	q.curPlaying = nil
	q.curStreaming = nil
	q.count = 0
}

// Reshuffle snapshots the playlist ring, Fisher-Yates shuffles it, and
// relinks it as a new cyclic shuffle ring. shuffle_head becomes
// cur_streaming if one exists, else the new ring's first element.
func (q *Queue) Reshuffle() {
	items := q.ToSlice()
	if len(items) == 0 {
		q.shuffleHead = nil
		return
	}

	shuffled := shuffledCopy(q.rng, items)
	for _, it := range shuffled {
		it.shuffleNext, it.shufflePrev = nil, nil
	}
	q.shuffleHead = spliceRing(shuffled, shufNextPtr, shufPrevPtr)

	if q.curStreaming != nil {
		q.shuffleHead = q.curStreaming
	}
}

// Position linearly scans pl_next from source_head counting to the given
// item. Returns -1 if the item is not in the playlist ring.
func (q *Queue) Position(it *Item) int {
	if q.sourceHead == nil || it == nil {
		return -1
	}
	curr := q.sourceHead
	for i := 0; i < q.count; i++ {
		if curr == it {
			return i
		}
		curr = curr.plNext
	}
	return -1
}

// CloseItem releases its transcoder context via the Opener, if one is
// open, and clears it.Ctx. Safe to call on an item that is already closed.
func (q *Queue) CloseItem(it *Item) {
	if it == nil || it.Ctx == nil {
		return
	}
	q.opener.Close(it.Ctx)
	it.Ctx = nil
}

// Open resolves id -> ctx via the Opener, resets stream/output/end/PlayNext
// to their initial state, and stores the context. Fails if the Opener
// rejects the item (e.g. disabled row) without mutating it.
func (q *Queue) Open(it *Item) error {
	ctx, err := q.opener.Open(it.ID)
	if err != nil {
		return fmt.Errorf("queue: open item %d: %w", it.ID, err)
	}
	it.StreamStart, it.OutputStart, it.End = 0, 0, 0
	it.PlayNext = nil
	it.Ctx = ctx
	return nil
}

// effectiveRepeat computes the repeat mode a Next/Prev call should actually
// use, per spec.md §4.B. The three rules cascade: each is tested against the
// mode the previous rule left behind, mirroring player.c's source_next,
// which reassigns r_mode and re-tests it rather than switching once on the
// original mode.
func (q *Queue) effectiveRepeat(force bool) RepeatMode {
	mode := q.Repeat

	if force && mode == RepeatSong {
		mode = RepeatAll
	}
	if q.count == 1 && mode == RepeatAll {
		mode = RepeatSong
	}
	if !force && mode == RepeatOff && q.count == 1 {
		mode = RepeatSong
	}

	return mode
}

// ErrStop is returned by Next when the effective policy dictates playback
// should stop rather than advance (end of a Repeat-Off queue).
var ErrStop = errors.New("queue: end of queue, stop")

// Next advances cur_streaming per spec.md §4.B. On success, if !force and
// cur_streaming is already set, the old cur_streaming.PlayNext is set to the
// newly opened item before cur_streaming is reassigned.
func (q *Queue) Next(force bool) error {
	if q.count == 0 {
		return ErrEmpty
	}

	mode := q.effectiveRepeat(force)

	switch mode {
	case RepeatSong:
		return q.nextSong()
	case RepeatAll:
		if q.Shuffle {
			return q.nextShuffled(force)
		}
		return q.nextPlaylist(force)
	default: // RepeatOff
		return q.nextOff(force)
	}
}

func (q *Queue) nextSong() error {
	cur := q.curStreaming
	if cur == nil {
		cur = q.sourceHead
		if cur == nil {
			return ErrEmpty
		}
	}
	if cur.Ctx == nil {
		if err := q.Open(cur); err != nil {
			return fmt.Errorf("%w: %v", ErrNoOpenCandidate, err)
		}
	} else if err := q.opener.Seek(cur.Ctx, 0); err != nil {
		return fmt.Errorf("%w: %v", ErrNoOpenCandidate, err)
	}
	q.curStreaming = cur
	return nil
}

func (q *Queue) nextPlaylist(force bool) error {
	candidate := q.sourceHead
	if q.curStreaming != nil {
		candidate = q.curStreaming.plNext
	}

	for i := 0; i < q.count; i++ {
		if err := q.Open(candidate); err == nil {
			q.promote(candidate, force)
			return nil
		}
		candidate = candidate.plNext
	}
	return ErrNoOpenCandidate
}

func (q *Queue) nextShuffled(force bool) error {
	candidate := q.shuffleHead
	if q.curStreaming != nil {
		candidate = q.curStreaming.shuffleNext
		if candidate == q.shuffleHead {
			q.Reshuffle()
			candidate = q.shuffleHead
		}
	}

	for i := 0; i < q.count; i++ {
		if err := q.Open(candidate); err == nil {
			q.promote(candidate, force)
			return nil
		}
		candidate = candidate.shuffleNext
	}
	return ErrNoOpenCandidate
}

func (q *Queue) nextOff(force bool) error {
	candidate := q.sourceHead
	if q.curStreaming != nil {
		candidate = q.curStreaming.plNext
	}

	if force && candidate == q.sourceHead && q.curStreaming != nil {
		return ErrStop
	}

	for i := 0; i < q.count; i++ {
		if err := q.Open(candidate); err == nil {
			q.promote(candidate, force)
			return nil
		}
		candidate = candidate.plNext
	}
	return ErrNoOpenCandidate
}

// promote installs the newly-opened candidate as cur_streaming, linking
// PlayNext from the prior cur_streaming when this was a natural (non-force)
// advance.
func (q *Queue) promote(candidate *Item, force bool) {
	if !force && q.curStreaming != nil {
		q.curStreaming.PlayNext = candidate
	}
	q.curStreaming = candidate
}

// Prev is symmetric to Next but never reshuffles (per spec.md's
// open-question: kept as the original's documented behavior) and stops
// immediately at the head under RepeatOff.
func (q *Queue) Prev() error {
	if q.count == 0 {
		return ErrEmpty
	}

	head := q.sourceHead
	if q.Shuffle {
		head = q.shuffleHead
	}

	if q.Repeat == RepeatOff && q.curStreaming == head {
		return ErrStop
	}

	if q.Shuffle {
		return q.prevRing(shufPrevPtr, q.shuffleHead)
	}
	return q.prevRing(plPrevPtr, q.sourceHead)
}

func (q *Queue) prevRing(prev func(*Item) **Item, head *Item) error {
	start := q.curStreaming
	if start == nil {
		start = head
	}
	candidate := *prev(start)

	for i := 0; i < q.count; i++ {
		if err := q.Open(candidate); err == nil {
			q.promote(candidate, true)
			return nil
		}
		candidate = *prev(candidate)
	}
	return ErrNoOpenCandidate
}
