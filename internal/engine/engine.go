// ABOUTME: Player state machine: integrates queue, pump, and output coordinator
// ABOUTME: Every control method marshals onto the player goroutine via the dispatcher
package engine

import (
	"fmt"
	"log"
	"time"

	"github.com/nimbusaudio/playcore/internal/clock"
	"github.com/nimbusaudio/playcore/internal/config"
	"github.com/nimbusaudio/playcore/internal/dispatch"
	"github.com/nimbusaudio/playcore/internal/mediadb"
	"github.com/nimbusaudio/playcore/internal/outputcoord"
	"github.com/nimbusaudio/playcore/internal/pump"
	"github.com/nimbusaudio/playcore/internal/queue"
)

// State is the player's top-level state, per spec.md §4.G.
type State int

const (
	Stopped State = iota
	Paused
	Playing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Paused:
		return "paused"
	case Playing:
		return "playing"
	default:
		return "unknown"
	}
}

// Status is the point-in-time snapshot returned by GetStatus.
type Status struct {
	State       State
	Shuffle     bool
	Repeat      queue.RepeatMode
	Volume      int
	ID          uint32
	PosMs       int64
	PosPlaylist int
}

const volumeKey = "player:volume"

// Engine is the player state machine. Every field it touches directly is
// owned exclusively by the player goroutine the Dispatcher drives; the
// Dispatcher, Queue, Coordinator, and Pump types enforce that at their own
// layer.
type Engine struct {
	dispatcher *dispatch.Dispatcher
	queue      *queue.Queue
	clock      *clock.PlaybackClock
	pump       *pump.Pump
	coord      *outputcoord.Coordinator
	db         mediadb.DB
	settings   *config.Store

	state       State
	volume      int
	selectedIDs []uint64

	updates chan Status
}

// New wires an Engine around an already-constructed queue/clock/pump/
// coordinator. The pump's Events must be this Engine; since the pump is
// built first, create it with pump.New(q, c, tc, nil) and set p.Events to
// the Engine after New returns. settings may be nil, in which case volume
// defaults to 100 and is not persisted across restarts.
func New(d *dispatch.Dispatcher, q *queue.Queue, c *clock.PlaybackClock, p *pump.Pump, coord *outputcoord.Coordinator, db mediadb.DB, settings *config.Store) *Engine {
	e := &Engine{
		dispatcher: d,
		queue:      q,
		clock:      c,
		pump:       p,
		coord:      coord,
		db:         db,
		settings:   settings,
		volume:     100,
		updates:    make(chan Status, 1),
	}
	if settings != nil {
		if v, ok, err := settings.GetInt(volumeKey); err == nil && ok {
			e.volume = v
		}
	}
	return e
}

// Updates returns the coalescing status-change notification channel
// (spec.md §6's set_updatefd), capacity 1: a burst of transitions collapses
// to the latest status, matching the "single edge per transition" rule.
func (e *Engine) Updates() <-chan Status { return e.updates }

func (e *Engine) notify() {
	status := e.statusLocked()
	select {
	case e.updates <- status:
	default:
		select {
		case <-e.updates:
		default:
		}
		select {
		case e.updates <- status:
		default:
		}
	}
}

// OnPlaying implements pump.Events: the pump has promoted cur_playing.
func (e *Engine) OnPlaying() {
	e.state = Playing
	e.notify()
}

// OnStopped implements pump.Events: the pump ran out of queue.
func (e *Engine) OnStopped() {
	e.stopLocked()
	e.notify()
}

// Run drives the dispatcher loop. Call this on the dedicated player
// goroutine; it blocks until stop is closed.
func (e *Engine) Run(stop <-chan struct{}) {
	e.dispatcher.Run(stop)
}

func (e *Engine) submit(name string, execute func() (int, error), bottomHalf func()) error {
	return e.dispatcher.Submit(&dispatch.Command{Name: name, Execute: execute, BottomHalf: bottomHalf})
}

// GetStatus returns a snapshot of the player's state.
func (e *Engine) GetStatus() (Status, error) {
	var s Status
	err := e.submit("get_status", func() (int, error) {
		s = e.statusLocked()
		return 0, nil
	}, nil)
	return s, err
}

func (e *Engine) statusLocked() Status {
	s := Status{
		State:   e.state,
		Shuffle: e.queue.Shuffle,
		Repeat:  e.queue.Repeat,
		Volume:  e.volume,
	}
	if it := e.queue.CurPlaying(); it != nil {
		s.ID = it.ID
		s.PosPlaylist = e.queue.Position(it)
		if pos, _, err := e.clock.Now(false); err == nil {
			s.PosMs = (pos - it.StreamStart) * 1000 / clock.SampleRate
		}
	} else if it := e.queue.CurStreaming(); it != nil {
		// Started but not yet promoted by the pump: report the item being
		// streamed, at position 0.
		s.ID = it.ID
		s.PosPlaylist = e.queue.Position(it)
	}
	return s
}

// NowPlaying returns the id of the currently-playing item; before the pump
// has promoted one, the id of cur_streaming; 0 if neither is set.
func (e *Engine) NowPlaying() (uint32, error) {
	status, err := e.GetStatus()
	return status.ID, err
}

// PlaybackStart starts or resumes playback, optionally jumping to the
// idx'th item in the playlist ring (0-based; nil resumes the existing
// cursor). Returns the id of the item that became cur_streaming.
func (e *Engine) PlaybackStart(idx *int) (uint32, error) {
	var chosenID uint32
	err := e.submit("start", func() (int, error) {
		id, pending, err := e.doStart(idx)
		chosenID = id
		return pending, err
	}, func() {
		e.pump.Start()
		e.state = Playing
		e.notify()
	})
	return chosenID, err
}

func (e *Engine) doStart(idx *int) (uint32, int, error) {
	if e.queue.Len() == 0 {
		return 0, 0, fmt.Errorf("engine: cannot start, queue is empty")
	}

	preRoll := e.clock.LastRtptime() + pump.PacketSamples - pump.PreRollSamples
	e.clock.SeedPosition(preRoll, time.Now())

	if idx != nil {
		if err := e.jumpTo(*idx); err != nil {
			return 0, 0, err
		}
	} else if e.queue.CurStreaming() == nil {
		if err := e.queue.Next(false); err != nil {
			return 0, 0, fmt.Errorf("engine: start: %w", err)
		}
	}

	item := e.queue.CurStreaming()
	start := e.clock.LastRtptime() + pump.PacketSamples
	item.StreamStart = start
	item.OutputStart = start

	pending := e.coord.SpeakerSet(e.selectedIDs, true)
	return item.ID, pending, nil
}

func (e *Engine) jumpTo(idx int) error {
	e.queue.SetCurPlaying(nil)

	if idx < 0 {
		return fmt.Errorf("engine: jump to index %d: negative index", idx)
	}
	items := e.queue.ToSlice()
	e.queue.SetCurStreaming(items[idx%len(items)])
	if e.queue.Shuffle {
		// Reshuffle puts shuffle_head at the new cur_streaming.
		e.queue.Reshuffle()
	}

	item := e.queue.CurStreaming()
	if item.Ctx == nil {
		if err := e.queue.Open(item); err != nil {
			return fmt.Errorf("engine: open item %d: %w", item.ID, err)
		}
	}
	return nil
}

// PlaybackPause pauses playback, capturing the current position so a
// subsequent PlaybackStart resumes seamlessly.
func (e *Engine) PlaybackPause() error {
	return e.submit("pause", func() (int, error) {
		return e.doPause()
	}, func() {
		e.state = Paused
		e.notify()
	})
}

func (e *Engine) doPause() (int, error) {
	if it := e.queue.CurPlaying(); it != nil {
		pos, _, err := e.clock.Now(true)
		if err == nil {
			it.End = pos
		}
	}
	e.pump.Stop()
	pending := e.coord.SpeakerSet(nil, false)
	return pending, nil
}

// PlaybackStop tears down all outputs and clears the queue's cursors.
func (e *Engine) PlaybackStop() error {
	return e.submit("stop", func() (int, error) {
		return e.doStop()
	}, func() {
		e.state = Stopped
		e.notify()
	})
}

func (e *Engine) doStop() (int, error) {
	e.stopLocked()
	pending := e.coord.SpeakerSet(nil, false)
	return pending, nil
}

func (e *Engine) stopLocked() {
	e.pump.Stop()
	// Close every open context and drop both cursors; the items stay queued.
	for _, it := range e.queue.ToSlice() {
		e.queue.CloseItem(it)
		it.PlayNext = nil
	}
	e.queue.SetCurPlaying(nil)
	e.queue.SetCurStreaming(nil)
	e.state = Stopped
}

// PlaybackSeek seeks within the current item to ms milliseconds, pausing
// and automatically restarting playback.
func (e *Engine) PlaybackSeek(ms int) error {
	return e.submit("seek", func() (int, error) {
		return e.doSeek(ms)
	}, func() {
		e.pump.Start()
		e.state = Playing
		e.notify()
	})
}

func (e *Engine) doSeek(ms int) (int, error) {
	item := e.queue.CurStreaming()
	if item == nil || item.Ctx == nil {
		return 0, fmt.Errorf("engine: seek with no current item")
	}
	e.pump.Stop()

	// transcode_seek lives behind the queue's opener in this layering; the
	// engine asks the pump's transcoder directly via the item context.
	actualMs, err := e.pump.Transcoder.Seek(item.Ctx, ms)
	if err != nil {
		return 0, fmt.Errorf("engine: seek: %w", err)
	}

	start := e.clock.LastRtptime() + pump.PacketSamples - int64(actualMs)*clock.SampleRate/1000
	item.StreamStart = start
	item.OutputStart = e.clock.LastRtptime() + pump.PacketSamples
	e.queue.SetCurPlaying(nil)

	pending := e.coord.SpeakerSet(e.selectedIDs, true)
	return pending, nil
}

// PlaybackNext advances to the next item (force semantics: always moves,
// even under RepeatSong), reusing pause as the front half.
func (e *Engine) PlaybackNext() error {
	return e.submit("next", func() (int, error) {
		return e.doAdvance(func() error { return e.queue.Next(true) })
	}, func() {
		e.pump.Start()
		e.state = Playing
		e.notify()
	})
}

// PlaybackPrev moves to the previous item.
func (e *Engine) PlaybackPrev() error {
	return e.submit("prev", func() (int, error) {
		return e.doAdvance(func() error { return e.queue.Prev() })
	}, func() {
		e.pump.Start()
		e.state = Playing
		e.notify()
	})
}

func (e *Engine) doAdvance(move func() error) (int, error) {
	e.pump.Stop()
	e.queue.SetCurPlaying(nil)

	if err := move(); err != nil {
		e.stopLocked()
		return 0, fmt.Errorf("engine: advance: %w", err)
	}

	item := e.queue.CurStreaming()
	start := e.clock.LastRtptime() + pump.PacketSamples
	item.StreamStart = start
	item.OutputStart = start

	pending := e.coord.SpeakerSet(e.selectedIDs, true)
	return pending, nil
}

// SpeakerEnumerate lists known devices; the registry already owns its own
// lock, so this does not need to run on the player goroutine, but routing
// it through the dispatcher keeps every control-frontend operation on one
// code path.
func (e *Engine) SpeakerEnumerate() ([]SpeakerInfo, error) {
	var out []SpeakerInfo
	err := e.submit("speaker_enumerate", func() (int, error) {
		for _, d := range e.coord.Registry.All() {
			out = append(out, SpeakerInfo{ID: d.ID, Name: d.Name, Selected: d.Selected, HasPassword: d.HasPassword})
		}
		return 0, nil
	}, nil)
	return out, err
}

// SpeakerInfo is one entry in a SpeakerEnumerate response.
type SpeakerInfo struct {
	ID          uint64
	Name        string
	Selected    bool
	HasPassword bool
}

// SpeakerSet reconciles the selected output set, returning the aggregate
// result code (0 success, -1 failure, -2 password-missing).
func (e *Engine) SpeakerSet(ids []uint64) (int, error) {
	var result int
	err := e.submit("speaker_set", func() (int, error) {
		e.selectedIDs = ids
		pending := e.coord.SpeakerSet(ids, e.state == Playing)
		if pending == 0 {
			result = e.coord.Result()
		}
		return pending, nil
	}, func() {
		result = e.coord.Result()
	})
	return result, err
}

// VolumeSet sets the master volume (0-100) and persists it.
func (e *Engine) VolumeSet(v int) error {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	return e.submit("volume_set", func() (int, error) {
		e.volume = v
		if e.settings != nil {
			if err := e.settings.SetInt(volumeKey, v); err != nil {
				log.Printf("engine: persist volume: %v", err)
			}
		}
		e.notify()
		return 0, nil
	}, nil)
}

// RepeatSet sets the repeat mode.
func (e *Engine) RepeatSet(mode queue.RepeatMode) error {
	return e.submit("repeat_set", func() (int, error) {
		e.queue.Repeat = mode
		e.notify()
		return 0, nil
	}, nil)
}

// ShuffleSet enables or disables shuffle, reshuffling only on the off->on
// edge per spec.md §8's idempotence property.
func (e *Engine) ShuffleSet(on bool) error {
	return e.submit("shuffle_set", func() (int, error) {
		if on && !e.queue.Shuffle {
			e.queue.Reshuffle()
		}
		e.queue.Shuffle = on
		e.notify()
		return 0, nil
	}, nil)
}

// QueueAdd splices sub into the playlist ring before source_head.
func (e *Engine) QueueAdd(sub *queue.Queue) error {
	return e.submit("queue_add", func() (int, error) {
		e.queue.Add(sub)
		return 0, nil
	}, nil)
}

// QueueClear empties the queue, closing any open transcoder contexts.
func (e *Engine) QueueClear() error {
	return e.submit("queue_clear", func() (int, error) {
		e.queue.Clear()
		return 0, nil
	}, nil)
}
