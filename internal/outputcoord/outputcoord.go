// ABOUTME: Output Coordinator: speaker_set reconciliation and local-sink state wiring
// ABOUTME: Grounded on player.c's speaker_set/raop_cb/laudio_cb accounting
package outputcoord

import (
	"sync"

	"github.com/nimbusaudio/playcore/internal/clock"
	"github.com/nimbusaudio/playcore/internal/device"
	"github.com/nimbusaudio/playcore/internal/dispatch"
	"github.com/nimbusaudio/playcore/internal/localsink"
	"github.com/nimbusaudio/playcore/internal/remote"
)

// LocalDeviceID is the reserved id addressing the local sink in speaker_set
// calls, per spec.md §4.E.
const LocalDeviceID = 0

// StopPlayback is invoked when the local sink fails and no remote sessions
// remain, per spec.md §4.E's Failed-state rule.
type StopPlayback func()

// Coordinator reconciles the selected output set against reality and wires
// the local sink's state callback into the sync clock.
type Coordinator struct {
	Registry   *device.Registry
	Local      localsink.Sink
	Driver     remote.Driver
	Clock      *clock.PlaybackClock
	Dispatcher *dispatch.Dispatcher
	OnStop     StopPlayback

	mu            sync.Mutex
	ret           int
	localRunning  bool
	localSelected bool
}

// New creates a Coordinator. Callers should wire (*Coordinator).OnLocalState
// as the local sink's StateCallback before the sink is opened.
func New(registry *device.Registry, local localsink.Sink, driver remote.Driver, c *clock.PlaybackClock, d *dispatch.Dispatcher, onStop StopPlayback) *Coordinator {
	return &Coordinator{Registry: registry, Local: local, Driver: driver, Clock: c, Dispatcher: d, OnStop: onStop}
}

// OnLocalState handles the local sink's lifecycle callback, per spec.md
// §4.E: Running switches the sync source to LocalAudio; Stopping commits
// the current position from LocalAudio before switching back to Clock so
// the transition is seamless; Failed falls back to Clock, clears the
// selection, and stops playback if no remote sessions are left.
func (c *Coordinator) OnLocalState(s localsink.State) {
	switch s {
	case localsink.Running:
		c.Clock.SetSource(clock.SourceLocalAudio)
		c.mu.Lock()
		c.localRunning = true
		c.mu.Unlock()

	case localsink.Stopping:
		if err := c.Clock.CommitFromLocalAudio(); err != nil {
			c.Clock.SetSource(clock.SourceClock)
		}
		c.mu.Lock()
		c.localRunning = false
		c.mu.Unlock()

	case localsink.Failed:
		c.Clock.SetSource(clock.SourceClock)
		c.Local.Close()
		c.mu.Lock()
		c.localRunning = false
		c.localSelected = false
		c.mu.Unlock()
		noRemotes := true
		for _, d := range c.Registry.All() {
			if d.Session != nil {
				noRemotes = false
				break
			}
		}
		if noRemotes && c.OnStop != nil {
			c.OnStop()
		}
	}
}

// SpeakerSet reconciles the selected output set against ids, per spec.md
// §4.E. playing indicates whether activation should start streaming
// immediately (Playing) or merely probe the device (Stopped). It returns
// the number of async completions launched; the caller's Command should
// report that as its pending count so the dispatcher's bottom half waits
// for every one of them. A device that needs a password it does not have
// is left unselected and recorded as -2; the other activations and
// deactivations of the same call still take effect and are not rolled back.
func (c *Coordinator) SpeakerSet(ids []uint64, playing bool) int {
	c.mu.Lock()
	c.ret = 0
	c.mu.Unlock()

	want := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}

	pending := 0

	if want[LocalDeviceID] {
		pending += c.activateLocal(playing)
	} else if c.localSelectedSnapshot() {
		c.deactivateLocal()
	}

	for _, d := range c.Registry.All() {
		if want[d.ID] {
			pending += c.activateRemote(d, playing)
		} else if d.Session != nil {
			pending += c.deactivateRemote(d)
		}
	}

	return pending
}

func (c *Coordinator) localSelectedSnapshot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localSelected
}

func (c *Coordinator) activateLocal(playing bool) int {
	c.mu.Lock()
	already := c.localRunning
	c.localSelected = true
	c.mu.Unlock()

	if already {
		return 0
	}
	if !playing {
		// Probe: nothing to open yet, just mark selected.
		return 0
	}
	if err := c.Local.Start(); err != nil {
		c.recordResult(remote.ResultFailure)
	}
	return 0
}

func (c *Coordinator) deactivateLocal() {
	c.mu.Lock()
	c.localSelected = false
	c.mu.Unlock()
	c.Local.Stop()
}

func (c *Coordinator) activateRemote(d *device.Device, playing bool) int {
	if d.Session != nil {
		return 0
	}
	if d.HasPassword && d.Password == "" {
		c.recordResult(remote.ResultPasswordMissing)
		c.Registry.SetSelected(d.ID, false)
		return 0
	}

	c.Registry.SetSelected(d.ID, true)

	sess, err := c.Driver.Dial(d.Address, d.Port, d.Password, nil)
	if err != nil {
		c.recordResult(remote.ResultFailure)
		return 0
	}
	c.Registry.SetSession(d.ID, sess)

	done := func(r remote.Result) {
		c.recordResult(r)
		// A started stream keeps its session; a failed start or a finished
		// probe ends it.
		if r != remote.ResultSuccess || !playing {
			c.Registry.SessionEnded(d.ID)
		}
		if c.Dispatcher != nil {
			c.Dispatcher.CompleteOne()
		}
	}

	if playing {
		sess.Start(c.Clock.LastRtptime(), done)
	} else {
		sess.Probe(done)
	}
	return 1
}

func (c *Coordinator) deactivateRemote(d *device.Device) int {
	if d.Session == nil {
		return 0
	}
	sess := d.Session.(remote.Session)
	c.Registry.SetSelected(d.ID, false)
	sess.Stop(func(r remote.Result) {
		sess.Close()
		c.Registry.SessionEnded(d.ID)
		if c.Dispatcher != nil {
			c.Dispatcher.CompleteOne()
		}
	})
	return 1
}

// recordResult folds r into the aggregate result, never downgrading a
// previously recorded -2 (password-missing) to -1 (hard failure), per
// spec.md §4.E.
func (c *Coordinator) recordResult(r remote.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case r == remote.ResultSuccess:
		return
	case c.ret == int(remote.ResultPasswordMissing):
		return
	default:
		c.ret = int(r)
	}
}

// Result returns the aggregate result code of the most recent SpeakerSet
// call, once all its async completions have settled.
func (c *Coordinator) Result() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ret
}
