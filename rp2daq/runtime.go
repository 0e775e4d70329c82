// Package rp2daq is the typed call surface applications use: it ties the
// descriptor catalogue, wire codec, transport worker, receive pipeline
// and dispatcher into one runtime value. Multiple runtimes may coexist,
// one per device, since all mutable state lives inside the Runtime.
package rp2daq

import (
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/rp2daq/rp2daq-go/descriptor"
	"github.com/rp2daq/rp2daq-go/dispatch"
	"github.com/rp2daq/rp2daq-go/locate"
	"github.com/rp2daq/rp2daq-go/pipeline"
	"github.com/rp2daq/rp2daq-go/transport"
	"github.com/rp2daq/rp2daq-go/wire"
)

// Disconnected is surfaced to the application when the endpoint closes
// unexpectedly mid-session.
type Disconnected struct {
	Cause error
}

func (e *Disconnected) Error() string {
	return fmt.Sprintf("rp2daq: device disconnected: %v", e.Cause)
}

// Report is the record handed to callers, synchronous and asynchronous
// alike: header field values by name, plus Data when the report carries
// a sample payload.
type Report = pipeline.Report

// Runtime owns one open device: the transport worker, the receive
// pipeline goroutine, the dispatcher, and the immutable descriptor
// catalogue shared read-only across all of it.
type Runtime struct {
	cat    *descriptor.Catalogue
	worker *transport.Worker
	disp   *dispatch.Dispatcher

	pipelineDone chan struct{}

	mu           sync.Mutex
	disconnected error
	onDisconnect []func(error)
}

// Open locates a device matching serialFilter (empty matches any), whose
// firmware version equals the descriptor's embedded version, opens it,
// and starts the receive pipeline and dispatcher.
func Open(descriptorRoot, serialFilter string) (*Runtime, error) {
	cat, err := descriptor.Load(descriptorRoot)
	if err != nil {
		return nil, err
	}
	path, err := locate.Find(cat.Version, serialFilter)
	if err != nil {
		return nil, err
	}
	port, err := transport.OpenSerial(path, 115200)
	if err != nil {
		return nil, err
	}
	return newRuntime(cat, port), nil
}

func newRuntime(cat *descriptor.Catalogue, port transport.Port) *Runtime {
	r := &Runtime{
		cat:          cat,
		worker:       transport.NewWorker(port, transport.DefaultReadDelay(), 4096, 64),
		disp:         dispatch.New(),
		pipelineDone: make(chan struct{}),
	}
	go r.watchDisconnect()
	go r.runPipeline()
	return r
}

func (r *Runtime) watchDisconnect() {
	err, ok := <-r.worker.Disconnected()
	if !ok {
		return
	}
	r.fail(&Disconnected{Cause: err})
}

func (r *Runtime) runPipeline() {
	defer close(r.pipelineDone)
	err := pipeline.Run(r.cat, r.worker.Recv(), r.disp.Dispatch)
	if err == io.EOF {
		return // clean shutdown via Close/Terminate
	}
	if err != nil {
		r.fail(err)
	}
}

// fail tears the runtime down on an unrecoverable error: ProtocolDesync
// or Disconnected. It cancels every pending synchronous call and stops
// the callback worker, then notifies registered disconnect observers.
func (r *Runtime) fail(err error) {
	r.mu.Lock()
	if r.disconnected != nil {
		r.mu.Unlock()
		return
	}
	r.disconnected = err
	observers := append([]func(error){}, r.onDisconnect...)
	r.mu.Unlock()

	log.Printf("rp2daq: runtime failing: %v", err)
	r.disp.Cancel()
	r.worker.Terminate()
	for _, f := range observers {
		f(err)
	}
}

// OnDisconnect registers a callback invoked once, when the runtime tears
// down due to ProtocolDesync or Disconnected.
func (r *Runtime) OnDisconnect(f func(error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconnect = append(r.onDisconnect, f)
}

// Invoke calls a named command generically. If cb is non-nil the call is
// asynchronous: cb is installed as the standing subscriber for that
// opcode and Invoke returns immediately with a nil report. If cb is nil,
// Invoke blocks until the matching report arrives and returns it.
func (r *Runtime) Invoke(name string, args map[string]int64, cb func(Report)) (*Report, error) {
	opcode, ok := r.cat.Opcode(name)
	if !ok {
		return nil, fmt.Errorf("rp2daq: unknown command %q", name)
	}
	cmd, _ := r.cat.Command(opcode)
	frame, err := wire.EncodeCommand(cmd, args)
	if err != nil {
		return nil, err
	}

	if cb != nil {
		r.disp.Subscribe(opcode, cb)
		r.worker.Send() <- frame
		return nil, nil
	}

	waiter := r.disp.BeginSync(opcode)
	r.worker.Send() <- frame
	rep, err := waiter.Wait()
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// Close cancels the dispatcher (unblocking every pending synchronous
// call with Cancelled), terminates the transport worker, and joins the
// callback worker, the transport reader and the receive pipeline
// goroutine before returning. The transport writer and the disconnect
// watcher are released by the same teardown and exit on their own;
// Close does not wait for them. Idempotent.
func (r *Runtime) Close() {
	r.disp.Cancel()
	r.worker.Terminate()
	<-r.pipelineDone
}

// Catalogue exposes the immutable command/report interface this runtime
// was built from, e.g. for a monitor UI to list available commands.
func (r *Runtime) Catalogue() *descriptor.Catalogue {
	return r.cat
}
