// ABOUTME: Integration-style tests driving the engine through the real dispatcher/queue/pump
// ABOUTME: Grounded on outputcoord_test.go/pump_test.go's fake-collaborator style
package engine

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/nimbusaudio/playcore/internal/clock"
	"github.com/nimbusaudio/playcore/internal/config"
	"github.com/nimbusaudio/playcore/internal/device"
	"github.com/nimbusaudio/playcore/internal/dispatch"
	"github.com/nimbusaudio/playcore/internal/mediadb"
	"github.com/nimbusaudio/playcore/internal/outputcoord"
	"github.com/nimbusaudio/playcore/internal/pump"
	"github.com/nimbusaudio/playcore/internal/queue"
	"github.com/nimbusaudio/playcore/internal/remote"
	"github.com/nimbusaudio/playcore/internal/transcoder"
)

type fakeSink struct {
	started bool
}

func (f *fakeSink) Open(sampleRate, channels int) error { return nil }
func (f *fakeSink) Start() error                        { f.started = true; return nil }
func (f *fakeSink) Stop() error                         { f.started = false; return nil }
func (f *fakeSink) Close() error                        { return nil }
func (f *fakeSink) Write(samples []int16) (int, error)  { return len(samples), nil }
func (f *fakeSink) SetVolume(v int)                     {}
func (f *fakeSink) Position() (int64, error)            { return 0, nil }

type fakeDriver struct{}

func (fakeDriver) Dial(address string, port int, password string, onState remote.StateCallback) (remote.Session, error) {
	return nil, nil
}

type fakeDB struct {
	rows []uint32
}

func (f *fakeDB) QueryStart(ctx context.Context, filter mediadb.Filter) (mediadb.Iterator, error) {
	return &fakeIterator{rows: f.rows}, nil
}

func (f *fakeDB) FetchByID(ctx context.Context, id uint32) (mediadb.FileMeta, error) {
	return mediadb.FileMeta{ID: id, Path: "unused"}, nil
}

type fakeIterator struct {
	rows []uint32
	i    int
}

func (it *fakeIterator) Next() (uint32, bool, error) {
	if it.i >= len(it.rows) {
		return 0, false, nil
	}
	id := it.rows[it.i]
	it.i++
	return id, true, nil
}
func (it *fakeIterator) Close() error { return nil }

// fakePCM yields 8 bytes of silence per item before EOF, just enough to
// exercise open/seek/cleanup without a real file.
type fakePCM struct{}

func (fakePCM) Setup(meta mediadb.FileMeta) (any, error) { return &pcmState{}, nil }
func (fakePCM) Transcode(ctx any, out []byte) (int, error) {
	s := ctx.(*pcmState)
	if s.read >= 8 {
		return 0, io.EOF
	}
	n := copy(out, make([]byte, 8-s.read))
	s.read += n
	return n, nil
}
func (fakePCM) Seek(ctx any, ms int) (int, error) {
	ctx.(*pcmState).read = 0
	return 0, nil
}
func (fakePCM) Cleanup(ctx any) {}

type pcmState struct{ read int }

func newEngine(t *testing.T, ids []uint32) (*Engine, *dispatch.Dispatcher, *fakeSink, func()) {
	t.Helper()

	db := &fakeDB{rows: ids}
	tc := transcoder.Transcoder(fakePCM{})
	opener := NewMediaOpener(db, tc)

	q, err := queue.Make(opener, nil, ids)
	if err != nil {
		t.Fatalf("queue.Make: %v", err)
	}

	c := clock.New(nil)
	d := dispatch.New()
	sink := &fakeSink{}
	registry := device.NewRegistry()
	coord := outputcoord.New(registry, sink, fakeDriver{}, c, d, nil)

	p := pump.New(q, c, tc, nil)
	p.Local = sink

	settingsPath := t.TempDir() + "/settings.db"
	settings, err := config.Open(settingsPath)
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}

	e := New(d, q, c, p, coord, db, settings)
	p.Events = e

	stop := make(chan struct{})
	go d.Run(stop)

	return e, d, sink, func() { close(stop); settings.Close() }
}

func waitForState(t *testing.T, e *Engine, want State) Status {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		status, err := e.GetStatus()
		if err != nil {
			t.Fatalf("GetStatus: %v", err)
		}
		if status.State == want {
			return status
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for state %s, last was %s", want, status.State)
		case <-time.After(time.Millisecond):
		}
	}
}

func TestPlaybackStartTransitionsToPlayingAndActivatesLocalSink(t *testing.T) {
	e, _, sink, cleanup := newEngine(t, []uint32{1, 2})
	defer cleanup()

	if _, err := e.SpeakerSet([]uint64{outputcoord.LocalDeviceID}); err != nil {
		t.Fatalf("SpeakerSet: %v", err)
	}

	if _, err := e.PlaybackStart(nil); err != nil {
		t.Fatalf("PlaybackStart: %v", err)
	}

	status := waitForState(t, e, Playing)
	if status.ID != 1 {
		t.Fatalf("expected item 1 to be current, got %d", status.ID)
	}
	if !sink.started {
		t.Fatalf("expected local sink to be started")
	}
}

func TestPlaybackPauseThenStartResumes(t *testing.T) {
	e, _, sink, cleanup := newEngine(t, []uint32{1})
	defer cleanup()

	if _, err := e.SpeakerSet([]uint64{outputcoord.LocalDeviceID}); err != nil {
		t.Fatalf("SpeakerSet: %v", err)
	}

	if _, err := e.PlaybackStart(nil); err != nil {
		t.Fatalf("PlaybackStart: %v", err)
	}
	waitForState(t, e, Playing)

	if err := e.PlaybackPause(); err != nil {
		t.Fatalf("PlaybackPause: %v", err)
	}
	waitForState(t, e, Paused)
	if sink.started {
		t.Fatalf("expected local sink stopped while paused")
	}

	if _, err := e.PlaybackStart(nil); err != nil {
		t.Fatalf("resume PlaybackStart: %v", err)
	}
	waitForState(t, e, Playing)
}

func TestPlaybackStopClearsQueueCursors(t *testing.T) {
	idx := 1
	e, _, _, cleanup := newEngine(t, []uint32{1, 2})
	defer cleanup()

	if _, err := e.SpeakerSet([]uint64{outputcoord.LocalDeviceID}); err != nil {
		t.Fatalf("SpeakerSet: %v", err)
	}

	if _, err := e.PlaybackStart(&idx); err != nil {
		t.Fatalf("PlaybackStart: %v", err)
	}
	waitForState(t, e, Playing)

	if err := e.PlaybackStop(); err != nil {
		t.Fatalf("PlaybackStop: %v", err)
	}
	status := waitForState(t, e, Stopped)
	if status.ID != 0 {
		t.Fatalf("expected no current item once stopped, got %d", status.ID)
	}
}

func TestVolumeSetPersistsAcrossEngineRestarts(t *testing.T) {
	e, _, _, cleanup := newEngine(t, []uint32{1})
	defer cleanup()

	if err := e.VolumeSet(42); err != nil {
		t.Fatalf("VolumeSet: %v", err)
	}

	status, err := e.GetStatus()
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status.Volume != 42 {
		t.Fatalf("expected volume 42, got %d", status.Volume)
	}
}

func TestNewLoadsPersistedVolume(t *testing.T) {
	settingsPath := t.TempDir() + "/settings.db"
	settings, err := config.Open(settingsPath)
	if err != nil {
		t.Fatalf("config.Open: %v", err)
	}
	if err := settings.SetInt(volumeKey, 77); err != nil {
		t.Fatalf("SetInt: %v", err)
	}

	db := &fakeDB{}
	opener := NewMediaOpener(db, transcoder.Transcoder(fakePCM{}))
	q := queue.New(opener, nil)
	c := clock.New(nil)
	d := dispatch.New()
	e := New(d, q, c, pump.New(q, c, fakePCM{}, nil), nil, db, settings)

	if e.volume != 77 {
		t.Fatalf("expected volume loaded from settings store, got %d", e.volume)
	}
}
