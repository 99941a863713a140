// ABOUTME: Audio pump: the periodic tick that advances the queue and fans out samples
// ABOUTME: Grounded on player.c's player_playback_cb and pkg/sendspin/scheduler.go's ticker loop
package pump

import (
	"log"
	"time"

	"github.com/nimbusaudio/playcore/internal/clock"
	"github.com/nimbusaudio/playcore/internal/queue"
	"github.com/nimbusaudio/playcore/internal/transcoder"
)

// PacketSamples is AIRTUNES_V2_PACKET_SAMPLES: the fan-out granularity, one
// RTP packet's worth of stereo 16-bit frames.
const PacketSamples = 352

// BytesPerPacket is the scratch buffer's fixed size: PacketSamples frames of
// 16-bit stereo PCM.
const BytesPerPacket = PacketSamples * 2 * 2

// StreamPeriod is AIRTUNES_V2_STREAM_PERIOD: the wallclock duration of one
// packet at the fixed 44.1kHz sample rate.
const StreamPeriod = time.Duration(PacketSamples) * time.Second / clock.SampleRate

// PreRollSamples is the 2-second initial streaming lead used by
// playback_start's pre-roll calculation.
const PreRollSamples = 2 * clock.SampleRate

// LocalOutput is the local sink contract the pump writes packets to, when
// present and running.
type LocalOutput interface {
	Write(samples []int16) (int, error)
}

// RemoteOutput is a single remote session's audio write contract.
type RemoteOutput interface {
	Write(rtptime int64, payload []byte) error
}

// Events are the state transitions the pump reports back to the owning
// state machine. Implementations must not block.
type Events interface {
	OnPlaying()
	OnStopped()
}

// Pump advances last_rtptime (held by the clock), owns the reusable scratch
// packet, and runs one tick of the
// source_check/source_read algorithm from spec.md §4.C. All methods must be
// called from the single owning (player) goroutine.
type Pump struct {
	Queue      *queue.Queue
	Clock      *clock.PlaybackClock
	Transcoder transcoder.Transcoder
	Events     Events

	Local LocalOutput
	// RemoteOutputs is polled once per tick rather than held as a static
	// slice, since the selected remote set changes under speaker_set while
	// the pump keeps ticking. A nil func fans out to no remotes.
	RemoteOutputs func() []RemoteOutput

	scratch []byte
	carry   []byte // bytes read past a boundary, pending next item's buffer

	timer      *time.Timer
	deadline   time.Time
	stopCh     chan struct{}
	stoppedNow bool
}

// New creates a Pump. q, c, and tc must already be wired to the same
// session; Local and RemoteOutputs may be set after construction.
func New(q *queue.Queue, c *clock.PlaybackClock, tc transcoder.Transcoder, ev Events) *Pump {
	return &Pump{
		Queue:      q,
		Clock:      c,
		Transcoder: tc,
		Events:     ev,
		scratch:    make([]byte, BytesPerPacket),
		stopCh:     make(chan struct{}),
	}
}

// LastRtptime returns the rtptime of the most recently emitted packet. This
// delegates to the clock, which is the single owner of last_rtptime (it is
// also what remote sessions report start/flush timestamps against).
func (p *Pump) LastRtptime() int64 { return p.Clock.LastRtptime() }

// Start arms the absolute-deadline timer. It does not tick by itself: Run,
// or an external caller of Tick, drives the ticks.
func (p *Pump) Start() {
	p.stoppedNow = false
	p.deadline = time.Now()
	p.scheduleNext()
}

// Run drains ticks until Stop is called. It must run on the player
// goroutine exclusively, or be driven externally by calling Tick directly
// on each fire of an externally owned timer.
func (p *Pump) Run() {
	for {
		if p.timer == nil {
			return
		}
		select {
		case <-p.timer.C:
			if p.stoppedNow {
				return
			}
			p.Tick()
			p.scheduleNext()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pump) scheduleNext() {
	p.deadline = p.deadline.Add(StreamPeriod)
	delay := time.Until(p.deadline)
	if delay < 0 {
		delay = 0
	}
	p.timer = time.NewTimer(delay)
}

// Stop halts the timer loop. Safe to call even if Run was never started.
func (p *Pump) Stop() {
	p.stoppedNow = true
	if p.timer != nil {
		p.timer.Stop()
	}
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
}

// Tick runs exactly one source_check/source_read/fan-out cycle. Exported so
// tests and an externally driven scheduler can step the pump deterministically.
func (p *Pump) Tick() {
	if !p.sourceCheck() {
		return
	}

	p.Clock.AdvanceRtptime(PacketSamples)
	for i := range p.scratch {
		p.scratch[i] = 0
	}

	p.sourceRead()
	p.fanOut()
}

// sourceCheck advances the queue's cursors per spec.md §4.C step 1. It
// returns false if playback has stopped and the tick should abort.
func (p *Pump) sourceCheck() bool {
	pos, _, err := p.Clock.Now(false)
	if err != nil {
		log.Printf("pump: clock read failed: %v", err)
		return false
	}

	cur := p.Queue.CurPlaying()
	streaming := p.Queue.CurStreaming()

	if cur == nil {
		if streaming != nil && pos >= streaming.OutputStart {
			p.Queue.SetCurPlaying(streaming)
			if p.Events != nil {
				p.Events.OnPlaying()
			}
		}
		return true
	}

	if cur.End == 0 || pos < cur.End {
		return true
	}

	return p.crossBoundary(cur)
}

func (p *Pump) crossBoundary(cur *queue.Item) bool {
	mode := p.effectiveMode()

	if mode == queue.RepeatSong {
		next := cur.PlayNext
		if next != nil {
			p.closeItem(cur)
			p.carryOver(cur, next)
			p.Queue.SetCurStreaming(next)
			p.Queue.SetCurPlaying(next)
		} else {
			cur.StreamStart = cur.End + 1
			cur.OutputStart = cur.StreamStart
			cur.End = 0
		}
		if p.Events != nil {
			p.Events.OnPlaying()
		}
		return true
	}

	// next is normally already linked: sourceRead's Next(force=false) call,
	// triggered by the transcoder EOF that set cur.End, runs ahead of this
	// crossing and sets PlayNext via promote(). A nil PlayNext here means
	// that call either found nothing to open, or (for a single-item Off
	// queue) was folded into Song-mode re-seeking by effectiveRepeat and so
	// deliberately left PlayNext unset. Both cases are genuine end-of-queue.
	next := cur.PlayNext
	if next == nil || (mode == queue.RepeatOff && next == p.Queue.SourceHead()) {
		if p.Events != nil {
			p.Events.OnStopped()
		}
		return false
	}

	p.carryOver(cur, next)
	p.closeItem(cur)
	p.Queue.SetCurStreaming(next)
	p.Queue.SetCurPlaying(next)
	if p.Events != nil {
		p.Events.OnPlaying()
	}
	return true
}

func (p *Pump) carryOver(old, next *Item) {
	next.StreamStart = old.End + 1
	next.OutputStart = next.StreamStart
	old.End = 0
}

func (p *Pump) closeItem(it *Item) {
	p.Queue.CloseItem(it)
}

func (p *Pump) effectiveMode() queue.RepeatMode {
	if p.Queue.Repeat == queue.RepeatAll && p.Queue.Len() == 1 {
		return queue.RepeatSong
	}
	return p.Queue.Repeat
}

// sourceRead fills the scratch packet from the transcoder, per spec.md
// §4.C step 5: drain carry bytes first, then ask the transcoder for the
// rest; on EOF, close out cur_streaming and advance via Next(force=false).
func (p *Pump) sourceRead() {
	streaming := p.Queue.CurStreaming()
	if streaming == nil || streaming.Ctx == nil {
		return
	}

	filled := 0
	if len(p.carry) > 0 {
		n := copy(p.scratch, p.carry)
		p.carry = p.carry[n:]
		filled = n
	}

	for filled < len(p.scratch) {
		n, err := p.Transcoder.Transcode(streaming.Ctx, p.scratch[filled:])
		filled += n

		if err != nil {
			streaming.End = p.Clock.LastRtptime() + int64(filled/4) - 1
			finished := streaming
			if nextErr := p.Queue.Next(false); nextErr != nil {
				if p.Events != nil {
					p.Events.OnStopped()
				}
				return
			}
			streaming = p.Queue.CurStreaming()
			if streaming != finished {
				p.closeItem(finished)
			}
			if streaming == nil || streaming.Ctx == nil {
				return
			}
			continue
		}
		if n == 0 {
			return
		}
	}
}

func (p *Pump) fanOut() {
	if p.Local != nil {
		samples := bytesToInt16(p.scratch)
		if _, err := p.Local.Write(samples); err != nil {
			log.Printf("pump: local write failed: %v", err)
		}
	}
	if p.RemoteOutputs != nil {
		for _, r := range p.RemoteOutputs() {
			if err := r.Write(p.Clock.LastRtptime(), p.scratch); err != nil {
				log.Printf("pump: remote write failed: %v", err)
			}
		}
	}
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(uint16(b[i*2]) | uint16(b[i*2+1])<<8)
	}
	return out
}

// Item is a local alias so pump's internal helpers can reference queue.Item
// without repeating the package qualifier throughout this file.
type Item = queue.Item
