package dispatch

import (
	"sync"
	"testing"
	"time"

	"github.com/rp2daq/rp2daq-go/pipeline"
	"github.com/rp2daq/rp2daq-go/wire"
)

func TestSyncWaitReceivesDepositedReport(t *testing.T) {
	d := New()
	defer d.Cancel()

	w := d.BeginSync(5)
	go d.Dispatch(pipeline.Report{Opcode: 5})

	rep, err := w.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if rep.Opcode != 5 {
		t.Fatalf("opcode = %d, want 5", rep.Opcode)
	}
}

func TestAsyncOrderingPreservedWithinOpcode(t *testing.T) {
	d := New()
	defer d.Cancel()

	var mu sync.Mutex
	var seen []int
	done := make(chan struct{})
	d.Subscribe(7, func(r pipeline.Report) {
		mu.Lock()
		seen = append(seen, int(r.Header.Values["n"]))
		if len(seen) == 5 {
			close(done)
		}
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		d.Dispatch(pipeline.Report{Opcode: 7, Header: headerWithN(i)})
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callbacks")
	}
	for i, v := range seen {
		if v != i {
			t.Fatalf("seen = %v, out of order at %d", seen, i)
		}
	}
}

func TestCancelUnblocksPendingSyncCalls(t *testing.T) {
	d := New()
	w := d.BeginSync(1)

	done := make(chan error, 1)
	go func() {
		_, err := w.Wait()
		done <- err
	}()

	d.Cancel()

	select {
	case err := <-done:
		if _, ok := err.(*Cancelled); !ok {
			t.Fatalf("err = %v (%T), want *Cancelled", err, err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pending call was not unblocked by Cancel")
	}
}

func TestSyncWaitSurfacesPayloadError(t *testing.T) {
	d := New()
	defer d.Cancel()

	w := d.BeginSync(6)
	wantErr := &wire.UnsupportedEncoding{Bitwidth: 10}
	go d.Dispatch(pipeline.Report{Opcode: 6, Err: wantErr})

	_, err := w.Wait()
	if err != wantErr {
		t.Fatalf("Wait err = %v, want %v", err, wantErr)
	}
}

func TestAsyncCallbackSeesPayloadError(t *testing.T) {
	d := New()
	defer d.Cancel()

	wantErr := &wire.UnsupportedEncoding{Bitwidth: 10}
	got := make(chan error, 1)
	d.Subscribe(8, func(r pipeline.Report) { got <- r.Err })
	d.Dispatch(pipeline.Report{Opcode: 8, Err: wantErr})

	select {
	case err := <-got:
		if err != wantErr {
			t.Fatalf("callback err = %v, want %v", err, wantErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestUnsolicitedReportIsDropped(t *testing.T) {
	d := New()
	defer d.Cancel()
	// No subscriber, no pending waiter for opcode 99: must not panic or
	// block.
	d.Dispatch(pipeline.Report{Opcode: 99})
}

func TestSyncCallFromWithinCallbackIsNotBlocked(t *testing.T) {
	d := New()
	defer d.Cancel()

	syncDone := make(chan struct{})
	d.Subscribe(2, func(pipeline.Report) {
		w := d.BeginSync(3)
		go d.Dispatch(pipeline.Report{Opcode: 3})
		w.Wait()
		close(syncDone)
	})
	d.Dispatch(pipeline.Report{Opcode: 2})

	select {
	case <-syncDone:
	case <-time.After(2 * time.Second):
		t.Fatal("sync call from inside callback deadlocked")
	}
}

func headerWithN(n int) wire.Header {
	return wire.Header{Values: map[string]int64{"n": int64(n)}}
}
