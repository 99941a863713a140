// ABOUTME: Playback sync clock with two interchangeable sources
// ABOUTME: Derives the current stream position from wallclock or the local sink
package clock

import (
	"time"
)

// SampleRate is the engine's sole timebase: 44.1kHz stereo frames.
const SampleRate = 44100

// Source identifies which signal the clock derives position from.
type Source int

const (
	// SourceClock derives position by extrapolating elapsed wallclock time
	// from the last committed (pos, ts) pair.
	SourceClock Source = iota
	// SourceLocalAudio derives position directly from the local sink's
	// reported emitted-sample index.
	SourceLocalAudio
)

func (s Source) String() string {
	if s == SourceLocalAudio {
		return "local_audio"
	}
	return "clock"
}

// LocalPositioner is the subset of the local sink contract the clock needs:
// the sink's own idea of how many samples it has emitted.
type LocalPositioner interface {
	Position() (int64, error)
}

// PlaybackClock computes the current stream position. Every field is owned
// by the player thread; there is no internal locking, matching the
// ownership rule that PumpClock belongs exclusively to the player goroutine.
type PlaybackClock struct {
	source Source
	local  LocalPositioner

	pos   int64     // pb_pos: last committed sample index
	stamp time.Time // pb_pos_stamp: wallclock time pos was valid at

	lastRtptime int64 // one past the last sample index handed to outputs
}

// New creates a clock seeded at position 0, source Clock, stamped now.
func New(local LocalPositioner) *PlaybackClock {
	return &PlaybackClock{
		source: SourceClock,
		local:  local,
		stamp:  time.Now(),
	}
}

// Source returns the currently active sync source.
func (c *PlaybackClock) Source() Source { return c.source }

// SetSource switches the active sync source without touching pos/stamp;
// callers that need seam-free switching must Now(true) first (see
// CommitFromLocalAudio).
func (c *PlaybackClock) SetSource(s Source) { c.source = s }

// LastRtptime returns the index one past the last sample handed to outputs.
func (c *PlaybackClock) LastRtptime() int64 { return c.lastRtptime }

// AdvanceRtptime increments last_rtptime by n samples (one pump tick).
func (c *PlaybackClock) AdvanceRtptime(n int64) { c.lastRtptime += n }

// SetRtptime forcibly sets last_rtptime (used when (re)starting playback).
func (c *PlaybackClock) SetRtptime(v int64) { c.lastRtptime = v }

// SeedPosition installs pos/stamp without going through a source read; used
// when (re)starting playback to establish the pre-roll position.
func (c *PlaybackClock) SeedPosition(pos int64, ts time.Time) {
	c.pos = pos
	c.stamp = ts
}

// Now returns the current (pos, ts) under the active source. If commit is
// true, the result is installed as the new (pb_pos, pb_pos_stamp).
func (c *PlaybackClock) Now(commit bool) (pos int64, ts time.Time, err error) {
	switch c.source {
	case SourceLocalAudio:
		pos, err = c.local.Position()
		if err != nil {
			return 0, time.Time{}, err
		}
		ts = time.Now()

	default: // SourceClock
		ts = time.Now()
		deltaUs := ts.Sub(c.stamp).Microseconds()
		pos = c.pos + deltaUs*SampleRate/1_000_000
	}

	if commit {
		c.pos = pos
		c.stamp = ts
	}

	return pos, ts, nil
}

// CommitFromLocalAudio reads the LocalAudio source and commits the result,
// then switches the active source to Clock. This is the "commit exactly
// once during the LocalAudio->Clock transition" step the local sink's
// Stopping callback must perform to avoid a discontinuity.
func (c *PlaybackClock) CommitFromLocalAudio() error {
	prev := c.source
	c.source = SourceLocalAudio
	_, _, err := c.Now(true)
	if err != nil {
		c.source = prev
		return err
	}
	c.source = SourceClock
	return nil
}
