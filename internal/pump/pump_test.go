package pump

import (
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/nimbusaudio/playcore/internal/clock"
	"github.com/nimbusaudio/playcore/internal/mediadb"
	"github.com/nimbusaudio/playcore/internal/queue"
)

type fakeOpener struct{}

func (fakeOpener) Open(id uint32) (any, error)     { return &fakeTranscodeCtx{id: id}, nil }
func (fakeOpener) Seek(ctx any, ms int) error      { ctx.(*fakeTranscodeCtx).read = 0; return nil }
func (fakeOpener) Close(ctx any)                   {}

type fakeTranscodeCtx struct {
	id   uint32
	read int
}

// fakeTranscoder emits an endless stream of zero bytes per item except for
// item id 2, which ends after 8 bytes to exercise the EOF/boundary path.
type fakeTranscoder struct{}

func (fakeTranscoder) Setup(meta mediadb.FileMeta) (any, error) { return nil, nil }

func (fakeTranscoder) Transcode(ctx any, out []byte) (int, error) {
	c := ctx.(*fakeTranscodeCtx)
	if c.id == 2 && c.read >= 8 {
		return 0, io.EOF
	}
	n := len(out)
	if c.id == 2 && c.read+n > 8 {
		n = 8 - c.read
	}
	c.read += n
	return n, nil
}

func (fakeTranscoder) Seek(ctx any, ms int) (int, error) { return ms, nil }
func (fakeTranscoder) Cleanup(ctx any)                   {}

type fakeEvents struct {
	playing int
	stopped int
}

func (e *fakeEvents) OnPlaying() { e.playing++ }
func (e *fakeEvents) OnStopped() { e.stopped++ }

type fakeLocal struct {
	written [][]int16
}

func (f *fakeLocal) Write(samples []int16) (int, error) {
	cp := make([]int16, len(samples))
	copy(cp, samples)
	f.written = append(f.written, cp)
	return len(samples), nil
}

func newTestQueue(t *testing.T, ids ...uint32) *queue.Queue {
	t.Helper()
	q, err := queue.Make(fakeOpener{}, rand.New(rand.NewSource(1)), ids)
	if err != nil {
		t.Fatalf("Make: %v", err)
	}
	return q
}

func TestTickPromotesStreamingToPlayingOnceOutputStartReached(t *testing.T) {
	q := newTestQueue(t, 1, 2)
	if err := q.Next(false); err != nil {
		t.Fatalf("Next: %v", err)
	}
	item := q.CurStreaming()
	item.OutputStart = 0

	ev := &fakeEvents{}
	c := clock.New(nil)
	p := New(q, c, fakeTranscoder{}, ev)
	local := &fakeLocal{}
	p.Local = local

	p.Tick()

	if q.CurPlaying() != item {
		t.Fatalf("expected cur_playing promoted to streaming item")
	}
	if ev.playing != 1 {
		t.Fatalf("expected 1 OnPlaying event, got %d", ev.playing)
	}
	if len(local.written) != 1 {
		t.Fatalf("expected one local write, got %d", len(local.written))
	}
}

func TestTickDoesNotPromoteBeforeOutputStart(t *testing.T) {
	q := newTestQueue(t, 1)
	q.Next(false)
	item := q.CurStreaming()
	item.OutputStart = 1_000_000

	ev := &fakeEvents{}
	c := clock.New(nil)
	p := New(q, c, fakeTranscoder{}, ev)

	p.Tick()

	if q.CurPlaying() != nil {
		t.Fatalf("expected cur_playing to remain nil before output_start")
	}
	if ev.playing != 0 {
		t.Fatalf("expected no OnPlaying event yet")
	}
}

func TestTickAdvancesLastRtptimeEachCall(t *testing.T) {
	q := newTestQueue(t, 1)
	q.Next(false)
	q.CurStreaming().OutputStart = 0

	c := clock.New(nil)
	p := New(q, c, fakeTranscoder{}, &fakeEvents{})

	p.Tick()
	first := p.LastRtptime()
	p.Tick()
	second := p.LastRtptime()

	if second-first != PacketSamples {
		t.Fatalf("expected rtptime to advance by %d, got delta %d", PacketSamples, second-first)
	}
}

func TestSourceReadCrossesBoundaryOnEOFAndAdvances(t *testing.T) {
	q := newTestQueue(t, 2, 3)
	q.Next(false) // cur_streaming = item 2
	q.CurStreaming().OutputStart = 0

	ev := &fakeEvents{}
	c := clock.New(nil)
	p := New(q, c, fakeTranscoder{}, ev)
	p.Tick() // promotes cur_playing; reads 8 bytes then EOF triggers Next

	if q.CurStreaming().ID != 3 {
		t.Fatalf("expected queue to have advanced to item 3, got %d", q.CurStreaming().ID)
	}
}

// eofAfterTranscoder emits n bytes of silence then EOF forever after,
// regardless of item id - used to exercise end-of-queue stopping without
// the multi-item skip-forward machinery in fakeTranscoder.
type eofAfterTranscoder struct{ n int }

func (tc eofAfterTranscoder) Setup(meta mediadb.FileMeta) (any, error) {
	return &fakeTranscodeCtx{}, nil
}

func (tc eofAfterTranscoder) Transcode(ctx any, out []byte) (int, error) {
	c := ctx.(*fakeTranscodeCtx)
	if c.read >= tc.n {
		return 0, io.EOF
	}
	n := len(out)
	if c.read+n > tc.n {
		n = tc.n - c.read
	}
	c.read += n
	return n, nil
}

func (tc eofAfterTranscoder) Seek(ctx any, ms int) (int, error) { return ms, nil }
func (tc eofAfterTranscoder) Cleanup(ctx any)                   {}

func TestSingleItemRepeatOffStopsInsteadOfLooping(t *testing.T) {
	q := newTestQueue(t, 1)
	q.Repeat = queue.RepeatOff
	if err := q.Next(false); err != nil {
		t.Fatalf("Next: %v", err)
	}
	q.CurStreaming().OutputStart = 0

	ev := &fakeEvents{}
	c := clock.New(nil)
	p := New(q, c, eofAfterTranscoder{n: 8}, ev)

	// First tick: promotes cur_playing, reads 8 bytes, EOF sets End and
	// folds the single-item Off Next() into a Song-mode reseek.
	p.Tick()
	if ev.stopped != 0 {
		t.Fatalf("expected no stop yet, got %d", ev.stopped)
	}

	// Advance the clock far enough that the next tick's source_check sees
	// pos >= cur_playing.End and crosses the boundary.
	c.SeedPosition(q.CurPlaying().End+PacketSamples, time.Now())
	p.Tick()

	if ev.stopped != 1 {
		t.Fatalf("expected exactly one OnStopped event, got %d", ev.stopped)
	}
}

func TestStopAndRunExitsCleanly(t *testing.T) {
	q := newTestQueue(t, 1)
	c := clock.New(nil)
	p := New(q, c, fakeTranscoder{}, &fakeEvents{})

	p.Start()
	p.Stop()

	done := make(chan struct{})
	go func() {
		p.Run()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not exit after Stop")
	}
}
