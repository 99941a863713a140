// ABOUTME: Remote receiver driver contract and result codes
// ABOUTME: Mirrors the async completion model the command dispatcher expects
package remote

import "fmt"

// Result is an async operation's completion code, per spec.md §4.E: 0 is
// success, -1 is a hard failure, -2 is a non-fatal password-missing
// failure. Once a device reports -2 it must never be "upgraded" to -1 by a
// later failure on the same operation; the output coordinator enforces
// that rule, this package only carries the codes.
type Result int

const (
	ResultSuccess         Result = 0
	ResultFailure         Result = -1
	ResultPasswordMissing Result = -2
)

func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultFailure:
		return "failure"
	case ResultPasswordMissing:
		return "password-missing"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// StreamState is the lifecycle state of a remote session.
type StreamState int

const (
	StreamIdle StreamState = iota
	StreamStarting
	StreamStreaming
	StreamStopping
	StreamFailed
)

func (s StreamState) String() string {
	switch s {
	case StreamIdle:
		return "idle"
	case StreamStarting:
		return "starting"
	case StreamStreaming:
		return "streaming"
	case StreamStopping:
		return "stopping"
	case StreamFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateCallback is invoked on every session state transition.
type StateCallback func(StreamState)

// CompletionCallback reports the result of an async operation; the
// dispatcher's bottom half runs once every in-flight completion callback
// across all active sessions has fired.
type CompletionCallback func(Result)

// Session is a single remote receiver connection. Every method that
// mutates device state is async: it returns immediately and invokes done
// once the operation settles, matching the raop_pending model of
// spec.md §4.F.
type Session interface {
	Start(rtptime int64, done CompletionCallback)
	Flush(done CompletionCallback)
	SetVolume(volume int, done CompletionCallback)
	Probe(done CompletionCallback)
	Stop(done CompletionCallback)

	// Write enqueues one frame of audio for streaming. The audio pump calls
	// it on every tick for each remote output it is given, without checking
	// the session's StreamState first.
	Write(rtptime int64, payload []byte) error

	// Close tears the session down synchronously without waiting for a
	// pending completion; implements device.Session.
	Close()
}

// Driver opens new sessions against a remote receiver's address.
type Driver interface {
	Dial(address string, port int, password string, onState StateCallback) (Session, error)
}
