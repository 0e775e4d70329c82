// Package dispatch routes assembled reports to whichever side asked for
// them: a blocked synchronous caller, or a standing asynchronous
// subscriber whose callback runs on a dedicated worker so callback work
// never blocks the receive pipeline.
package dispatch

import (
	"fmt"
	"log"
	"sync"

	"github.com/rp2daq/rp2daq-go/pipeline"
)

// Cancelled is returned to every pending synchronous caller when the
// runtime is torn down.
type Cancelled struct {
	Opcode int
}

func (e *Cancelled) Error() string {
	return fmt.Sprintf("dispatch: opcode %d cancelled", e.Opcode)
}

type result struct {
	report pipeline.Report
	err    error
}

type cbJob struct {
	cb     func(pipeline.Report)
	report pipeline.Report
}

// Dispatcher holds the per-opcode slots (subscribed / pending-sync /
// idle) and the single callback worker. Async callbacks for a single
// opcode are never invoked concurrently: ordering within an opcode is
// preserved by routing every subscription through one worker goroutine.
// Callbacks for different opcodes are serialised on that same worker;
// this is the simplest ordering policy the design notes allow, traded
// against parallel dispatch, and is the one this runtime implements.
type Dispatcher struct {
	mu      sync.Mutex
	pending map[int]chan result
	subs    map[int]func(pipeline.Report)

	cbQueue chan cbJob
	stop    chan struct{}
	cbDone  chan struct{}
}

// New starts the callback worker and returns a ready Dispatcher.
func New() *Dispatcher {
	d := &Dispatcher{
		pending: map[int]chan result{},
		subs:    map[int]func(pipeline.Report){},
		cbQueue: make(chan cbJob, 256),
		stop:    make(chan struct{}),
		cbDone:  make(chan struct{}),
	}
	go d.callbackWorker()
	return d
}

func (d *Dispatcher) callbackWorker() {
	defer close(d.cbDone)
	for {
		select {
		case job, ok := <-d.cbQueue:
			if !ok {
				return
			}
			job.cb(job.report)
		case <-d.stop:
			return
		}
	}
}

// Subscribe installs cb as the standing callback for opcode, overwriting
// any previous subscription and clearing a pending-sync slot if one was
// left over from an earlier synchronous call of the same opcode.
func (d *Dispatcher) Subscribe(opcode int, cb func(pipeline.Report)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.pending, opcode)
	d.subs[opcode] = cb
}

// BeginSync installs a fresh pending-call slot for opcode, clearing any
// subscription for it, and returns a handle to wait on. Callers must
// call BeginSync before enqueuing the command, so a fast report can
// never race ahead of slot registration.
type Waiter struct {
	ch chan result
}

// Wait blocks until the dispatcher deposits a report for this opcode or
// the runtime is cancelled.
func (w Waiter) Wait() (pipeline.Report, error) {
	res := <-w.ch
	return res.report, res.err
}

func (d *Dispatcher) BeginSync(opcode int) Waiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.subs, opcode)
	ch := make(chan result, 1)
	d.pending[opcode] = ch
	return Waiter{ch: ch}
}

// Dispatch routes one assembled report: to the subscribed callback if
// one exists, else to the pending synchronous waiter if one exists, else
// it is logged as unsolicited and dropped. A report whose payload failed
// to decode (r.Err set, e.g. UnsupportedEncoding) still routes normally:
// a subscriber sees it on the Report it receives, and a synchronous
// waiter's Wait() returns it as the call's error.
func (d *Dispatcher) Dispatch(r pipeline.Report) {
	d.mu.Lock()
	if cb, ok := d.subs[r.Opcode]; ok {
		d.mu.Unlock()
		select {
		case d.cbQueue <- cbJob{cb: cb, report: r}:
		case <-d.stop:
		}
		return
	}
	if ch, ok := d.pending[r.Opcode]; ok {
		delete(d.pending, r.Opcode)
		d.mu.Unlock()
		ch <- result{report: r, err: r.Err}
		return
	}
	d.mu.Unlock()
	log.Printf("dispatch: unsolicited report for opcode %d", r.Opcode)
}

// Cancel fails every pending synchronous call with Cancelled, clears all
// subscriptions, and stops the callback worker. Idempotent.
func (d *Dispatcher) Cancel() {
	d.mu.Lock()
	for op, ch := range d.pending {
		ch <- result{err: &Cancelled{Opcode: op}}
		delete(d.pending, op)
	}
	d.subs = map[int]func(pipeline.Report){}
	d.mu.Unlock()

	select {
	case <-d.stop:
		// already cancelled
	default:
		close(d.stop)
	}
	<-d.cbDone
}
