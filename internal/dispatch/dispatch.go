// ABOUTME: Single in-flight command dispatcher for the player goroutine
// ABOUTME: Re-expresses the mutex/condvar command slot as a channel hand-off
package dispatch

import (
	"fmt"
	"sync/atomic"
)

// Command is one unit of work submitted to the player goroutine. Execute
// runs on the player goroutine and returns the number of async completions
// still pending (<=0 means the command finished synchronously). bottomHalf,
// if non-nil, runs on the player goroutine once every pending completion
// has been accounted for.
type Command struct {
	Name       string
	Execute    func() (pending int, err error)
	BottomHalf func()

	result chan error
}

// Dispatcher serializes commands onto a single player goroutine. Grounded
// on mtoohey31-q's channelconn.ChannelConn hand-off shape (a closed-channel
// signal plus a single send/receive channel pair), recast here as a
// single-flight command slot rather than a duplex connection, composed with
// player.c's command_pending/raop_pending bottom-half accounting.
type Dispatcher struct {
	commands    chan *Command
	completions chan struct{}
	closedCh    chan struct{}
	closed      atomic.Bool

	pending    int32
	bottomHalf func()
	pendingCmd *Command
	pendingErr error
}

// New creates a Dispatcher. Run must be started on the owning goroutine
// before Submit is called.
func New() *Dispatcher {
	return &Dispatcher{
		commands:    make(chan *Command),
		completions: make(chan struct{}, 64),
		closedCh:    make(chan struct{}),
	}
}

// Submit hands a command to the dispatcher and blocks until it has run: for
// a synchronous command, until Execute and its bottom half return; for an
// async one, until every pending completion has settled and the bottom half
// has run. It returns the error from Execute, if any.
func (d *Dispatcher) Submit(cmd *Command) error {
	if d.closed.Load() {
		return fmt.Errorf("dispatch: dispatcher closed")
	}
	cmd.result = make(chan error, 1)

	select {
	case d.commands <- cmd:
	case <-d.closedCh:
		return fmt.Errorf("dispatch: dispatcher closed")
	}

	select {
	case err := <-cmd.result:
		return err
	case <-d.closedCh:
		return fmt.Errorf("dispatch: dispatcher closed")
	}
}

// Run drains submitted commands on the calling goroutine until stop is
// closed or Close is called. It must be called from exactly one
// goroutine: the player goroutine that owns all player state.
func (d *Dispatcher) Run(stop <-chan struct{}) {
	for {
		// While an async command waits for its completions, leave new
		// commands queued so that only one command is in flight.
		commands := d.commands
		if d.pendingCmd != nil {
			commands = nil
		}
		select {
		case cmd := <-commands:
			d.execute(cmd)
		case <-d.completions:
			d.completeOne()
		case <-stop:
			return
		case <-d.closedCh:
			return
		}
	}
}

func (d *Dispatcher) execute(cmd *Command) {
	pending, err := cmd.Execute()

	if pending <= 0 {
		if cmd.BottomHalf != nil {
			cmd.BottomHalf()
		}
		cmd.result <- err
		return
	}

	atomic.AddInt32(&d.pending, int32(pending))
	d.bottomHalf = cmd.BottomHalf
	d.pendingCmd = cmd
	d.pendingErr = err
}

// CompleteOne records one async completion settling, per the raop_pending
// decrement in player.c's raop_cb/laudio_cb. It may be called from any
// goroutine (typically a remote session's read loop); the actual decrement and any bottom-half run are
// marshaled onto the player goroutine via Run's select loop, keeping
// pending/bottomHalf single-writer.
func (d *Dispatcher) CompleteOne() {
	select {
	case d.completions <- struct{}{}:
	case <-d.closedCh:
	}
}

func (d *Dispatcher) completeOne() {
	remaining := atomic.AddInt32(&d.pending, -1)
	if remaining <= 0 {
		bh := d.bottomHalf
		cmd := d.pendingCmd
		err := d.pendingErr
		d.bottomHalf = nil
		d.pendingCmd = nil
		d.pendingErr = nil
		if bh != nil {
			bh()
		}
		if cmd != nil {
			cmd.result <- err
		}
	}
}

// Pending reports the number of outstanding async completions.
func (d *Dispatcher) Pending() int {
	return int(atomic.LoadInt32(&d.pending))
}

// Close stops the dispatcher. Any Submit blocked waiting for a result
// returns an error.
func (d *Dispatcher) Close() {
	if d.closed.Swap(true) {
		return
	}
	close(d.closedCh)
}
