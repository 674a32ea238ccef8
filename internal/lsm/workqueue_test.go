package lsm

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWorkQueue_DrainsHighestPriorityFirst(t *testing.T) {
	q := NewWorkQueue()
	var order []string
	var mu sync.Mutex
	record := func(name string) WorkFunc {
		return func(ctx context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	q.Push(PriorityManager, record("manager"))
	q.Push(PriorityApplication, record("application"))
	q.Push(PrioritySwitch, record("switch"))

	for i := 0; i < 3; i++ {
		fn, ok := q.pop()
		if !ok {
			t.Fatal("expected work to be available")
		}
		fn(context.Background())
	}

	want := []string{"switch", "application", "manager"}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != len(want) {
		t.Fatalf("expected %d items drained, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected priority order %v, got %v", want, order)
		}
	}
}

func TestWorkQueue_StopUnblocksWaitingWorkers(t *testing.T) {
	q := NewWorkQueue()
	done := make(chan struct{})
	go func() {
		_, ok := q.pop()
		if ok {
			t.Error("expected pop to report no work after Stop")
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	q.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Stop to unblock a waiting pop within 1s")
	}
}

func TestPool_RunProcessesQueuedWorkThenExitsOnStop(t *testing.T) {
	q := NewWorkQueue()
	var count int32
	var mu sync.Mutex
	for i := 0; i < 5; i++ {
		q.Push(PriorityApplication, func(ctx context.Context) error {
			mu.Lock()
			count++
			mu.Unlock()
			return nil
		})
	}

	p := NewPool(q, 2, nil)
	runDone := make(chan error, 1)
	go func() { runDone <- p.Run(context.Background()) }()

	time.Sleep(50 * time.Millisecond)
	q.Stop()

	select {
	case err := <-runDone:
		if err != nil {
			t.Fatalf("expected Run to return nil after Stop, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after Stop within 1s")
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 5 {
		t.Fatalf("expected all 5 queued items processed, got %d", count)
	}
}

func TestManager_TickPushesSwitchWorkWhenChunkOversized(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ChunkMaxBytes = 1
	tr, err := NewTree(1, nil, cfg)
	if err != nil {
		t.Fatalf("NewTree: %v", err)
	}
	tx := &fakeTxn{id: 1}
	if err := tr.Put(tx, []byte("k"), []byte("v")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !tr.NeedSwitch() {
		t.Fatal("expected a write past chunk_max to set the need-switch flag")
	}

	q := NewWorkQueue()
	var nextID uint64
	m := NewManager(tr, q, time.Hour, func() uint64 {
		nextID++
		return nextID
	}, nil, nil)
	m.tick()

	if q.Len(PrioritySwitch) != 1 {
		t.Fatalf("expected one switch-priority item queued, got %d", q.Len(PrioritySwitch))
	}
}
