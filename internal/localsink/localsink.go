// ABOUTME: Local audio sink contract and a malgo-backed implementation
// ABOUTME: Exposes an emitted-sample position for the LocalAudio clock source
package localsink

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// State is the lifecycle state of a Sink, per spec.md §4.D/§9.
type State int

const (
	Closed State = iota
	Open
	Running
	Stopping
	Failed
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateCallback is invoked on every sink state transition. Implementations
// must not block; the output coordinator uses this to trigger
// clock.CommitFromLocalAudio on the Running->Stopping edge.
type StateCallback func(State)

// Sink is the local audio output contract. Position implements
// clock.LocalPositioner so the sync clock can read the sink's emitted
// sample count directly.
type Sink interface {
	Open(sampleRate, channels int) error
	Start() error
	Stop() error
	Close() error
	Write(samples []int16) (int, error)
	SetVolume(volume int)
	Position() (int64, error)
}

// ringBuffer is a thread-safe circular buffer of int16 samples, grounded on
// the teacher's pkg/audio/output/malgo.go RingBuffer, narrowed from int32 to
// int16 to match the spec's 16-bit PCM pipeline.
type ringBuffer struct {
	mu       sync.Mutex
	buf      []int16
	readPos  int
	writePos int
	size     int
	count    int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{buf: make([]int16, capacity), size: capacity}
}

func (rb *ringBuffer) Write(samples []int16) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	written := 0
	for written < len(samples) && rb.count < rb.size {
		rb.buf[rb.writePos] = samples[written]
		rb.writePos = (rb.writePos + 1) % rb.size
		rb.count++
		written++
	}
	return written
}

func (rb *ringBuffer) Read(out []int16) int {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	read := 0
	for read < len(out) && rb.count > 0 {
		out[read] = rb.buf[rb.readPos]
		rb.readPos = (rb.readPos + 1) % rb.size
		rb.count--
		read++
	}
	for i := read; i < len(out); i++ {
		out[i] = 0
	}
	return read
}

// Malgo is a Sink backed by the miniaudio device via malgo, grounded on the
// teacher's pkg/audio/output/malgo.go. The callback device and ring-buffer
// feed are kept as-is; the state model is expanded from the teacher's plain
// open/close into the five-state lifecycle the output coordinator expects,
// and a monotonically increasing emitted-frame counter backs Position().
type Malgo struct {
	mu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	malgoCtx *malgo.AllocatedContext
	device   *malgo.Device

	sampleRate int
	channels   int
	volume     int32

	ring    *ringBuffer
	emitted int64 // frames emitted by the callback, atomic

	state   State
	onState StateCallback
}

// NewMalgo creates a Malgo sink in the Closed state. onState may be nil.
func NewMalgo(onState StateCallback) *Malgo {
	ctx, cancel := context.WithCancel(context.Background())
	return &Malgo{
		ctx:     ctx,
		cancel:  cancel,
		volume:  100,
		onState: onState,
		state:   Closed,
	}
}

func (m *Malgo) setState(s State) {
	m.state = s
	if m.onState != nil {
		m.onState(s)
	}
}

// Open initializes the playback device at the given format.
func (m *Malgo) Open(sampleRate, channels int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			m.setState(Failed)
			return fmt.Errorf("localsink: init context: %w", err)
		}
		m.malgoCtx = ctx
	}

	bufferFrames := (sampleRate * 500) / 1000
	m.ring = newRingBuffer(bufferFrames * channels)
	m.sampleRate = sampleRate
	m.channels = channels
	atomic.StoreInt64(&m.emitted, 0)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(sampleRate)
	deviceConfig.Alsa.NoMMap = 1

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, pInput []byte, frameCount uint32) {
			m.dataCallback(pOutput, frameCount)
		},
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		m.setState(Failed)
		return fmt.Errorf("localsink: init device: %w", err)
	}
	m.device = device
	m.setState(Open)
	return nil
}

// Start begins playback.
func (m *Malgo) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return fmt.Errorf("localsink: start called before open")
	}
	if err := m.device.Start(); err != nil {
		m.setState(Failed)
		return fmt.Errorf("localsink: start device: %w", err)
	}
	m.setState(Running)
	return nil
}

// Stop halts playback without releasing the device; the output coordinator
// calls this on the Running->Stopping edge so the clock can commit from the
// last emitted position before the sink goes idle.
func (m *Malgo) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setState(Stopping)
	if m.device != nil {
		if err := m.device.Stop(); err != nil {
			m.setState(Failed)
			return fmt.Errorf("localsink: stop device: %w", err)
		}
	}
	m.setState(Open)
	return nil
}

// Close releases the device and malgo context.
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.malgoCtx != nil {
		_ = m.malgoCtx.Uninit()
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	m.cancel()
	m.setState(Closed)
	return nil
}

// Write enqueues interleaved 16-bit samples for playback, blocking only
// long enough to hand off to the ring buffer; backpressure comes from the
// callback's drain rate, not from Write itself.
func (m *Malgo) Write(samples []int16) (int, error) {
	m.mu.Lock()
	ring := m.ring
	m.mu.Unlock()

	if ring == nil {
		return 0, fmt.Errorf("localsink: write called before open")
	}
	return ring.Write(samples), nil
}

// SetVolume sets the playback volume, 0-100.
func (m *Malgo) SetVolume(volume int) {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	atomic.StoreInt32(&m.volume, int32(volume))
}

// Position returns the number of frames emitted so far, implementing
// clock.LocalPositioner.
func (m *Malgo) Position() (int64, error) {
	return atomic.LoadInt64(&m.emitted), nil
}

func (m *Malgo) dataCallback(pOutput []byte, frameCount uint32) {
	channels := m.channels
	if channels == 0 {
		channels = 2
	}
	samples := make([]int16, int(frameCount)*channels)
	m.ring.Read(samples)

	vol := atomic.LoadInt32(&m.volume)
	applyVolume(samples, int(vol))

	for i, s := range samples {
		pOutput[i*2] = byte(s)
		pOutput[i*2+1] = byte(s >> 8)
	}
	atomic.AddInt64(&m.emitted, int64(frameCount))
}

func applyVolume(samples []int16, volume int) {
	if volume >= 100 {
		return
	}
	for i, s := range samples {
		samples[i] = int16((int32(s) * int32(volume)) / 100)
	}
}
