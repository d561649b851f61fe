// Tourforge - Virtual Tour Editor and Session Server
// Copyright 2026 Tourforge Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tourforge/tourforge

package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tourforge/tourforge/internal/logging"
	"github.com/tourforge/tourforge/internal/tour"
)

func init() {
	logging.Init(logging.Config{Level: "error", Output: io.Discard})
}

// loaderGateway stubs the persistence gateway. Only LoadTourGraph does
// real work; the mutation methods never run in these tests.
type loaderGateway struct {
	mu       sync.Mutex
	loads    atomic.Int64
	loadErr  error
	loadGate chan struct{} // when set, LoadTourGraph blocks until closed
}

func (f *loaderGateway) LoadTourGraph(ctx context.Context, _ string, tourID int64) (*tour.Graph, error) {
	f.loads.Add(1)
	if f.loadGate != nil {
		select {
		case <-f.loadGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	err := f.loadErr
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	g := tour.NewGraph(tourID)
	g.InsertScene(tour.Scene{ID: 1, Name: "Lobby"})
	return g, nil
}

func (f *loaderGateway) setLoadErr(err error) {
	f.mu.Lock()
	f.loadErr = err
	f.mu.Unlock()
}

func (f *loaderGateway) CreateScene(context.Context, int64, string, string) (int64, error) {
	return 0, errors.New("not implemented")
}
func (f *loaderGateway) UpdateScene(context.Context, int64, tour.ScenePatch) error {
	return errors.New("not implemented")
}
func (f *loaderGateway) DeleteScene(context.Context, int64) error {
	return errors.New("not implemented")
}
func (f *loaderGateway) CreateConnection(context.Context, int64, int64, tour.Connection) (int64, error) {
	return 0, errors.New("not implemented")
}
func (f *loaderGateway) UpdateConnection(context.Context, int64, tour.ConnectionPatch) error {
	return errors.New("not implemented")
}
func (f *loaderGateway) DeleteConnection(context.Context, int64) error {
	return errors.New("not implemented")
}
func (f *loaderGateway) CreateAsset(context.Context, int64, string, string) (int64, error) {
	return 0, errors.New("not implemented")
}
func (f *loaderGateway) UpdateAssetPath(context.Context, int64, string) error {
	return errors.New("not implemented")
}
func (f *loaderGateway) SetInitialScene(context.Context, int64, int64) error {
	return errors.New("not implemented")
}
func (f *loaderGateway) ClearInitialScene(context.Context, int64) error {
	return errors.New("not implemented")
}

func snapshotFn(p *tour.Processor) []tour.Event {
	return p.Snapshot()
}

func TestWithLoadsOncePerKey(t *testing.T) {
	gw := &loaderGateway{}
	r := NewRegistry(gw)

	for i := 0; i < 3; i++ {
		if _, err := r.With(context.Background(), "ada", 1, snapshotFn); err != nil {
			t.Fatalf("With: %v", err)
		}
	}
	if _, err := r.With(context.Background(), "ada", 2, snapshotFn); err != nil {
		t.Fatalf("With: %v", err)
	}

	if got := gw.loads.Load(); got != 2 {
		t.Fatalf("loads = %d, want 2 (one per key)", got)
	}
	if r.Len() != 2 {
		t.Fatalf("registry len = %d, want 2", r.Len())
	}
}

// Two goroutines race to open the same session mid-load. Exactly one
// load must run, and both callers must see the same graph instance.
func TestConcurrentFirstAccessSharesOneInstance(t *testing.T) {
	gw := &loaderGateway{loadGate: make(chan struct{})}
	r := NewRegistry(gw)

	procs := make(chan *tour.Processor, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.With(context.Background(), "ada", 1, func(p *tour.Processor) []tour.Event {
				procs <- p
				return nil
			})
			if err != nil {
				t.Errorf("With: %v", err)
			}
		}()
	}

	// Give both goroutines time to reach the loader, then release it.
	time.Sleep(20 * time.Millisecond)
	close(gw.loadGate)
	wg.Wait()
	close(procs)

	if got := gw.loads.Load(); got != 1 {
		t.Fatalf("loads = %d, want 1", got)
	}
	first := <-procs
	for p := range procs {
		if p != first {
			t.Fatal("concurrent callers constructed divergent sessions")
		}
	}
}

func TestFailedLoadIsRetriable(t *testing.T) {
	gw := &loaderGateway{}
	gw.setLoadErr(errors.New("store down"))
	r := NewRegistry(gw)

	if _, err := r.With(context.Background(), "ada", 1, snapshotFn); err == nil {
		t.Fatal("expected load error")
	}
	if r.Len() != 0 {
		t.Fatal("failed entry left in registry")
	}

	gw.setLoadErr(nil)
	if _, err := r.With(context.Background(), "ada", 1, snapshotFn); err != nil {
		t.Fatalf("retry after failed load: %v", err)
	}
	if got := gw.loads.Load(); got != 2 {
		t.Fatalf("loads = %d, want 2", got)
	}
}

func TestEvictDropsEveryKeyForUser(t *testing.T) {
	gw := &loaderGateway{}
	r := NewRegistry(gw)

	ctx := context.Background()
	for _, tourID := range []int64{1, 2, 3} {
		if _, err := r.With(ctx, "ada", tourID, snapshotFn); err != nil {
			t.Fatalf("With: %v", err)
		}
	}
	if _, err := r.With(ctx, "grace", 1, snapshotFn); err != nil {
		t.Fatalf("With: %v", err)
	}

	if n := r.Evict("ada"); n != 3 {
		t.Fatalf("evicted %d sessions, want 3", n)
	}
	if r.Len() != 1 {
		t.Fatalf("registry len = %d, want 1 (grace survives)", r.Len())
	}

	// Ada's next access reloads from the store.
	before := gw.loads.Load()
	if _, err := r.With(ctx, "ada", 1, snapshotFn); err != nil {
		t.Fatalf("With after evict: %v", err)
	}
	if gw.loads.Load() != before+1 {
		t.Fatal("evicted session served from stale cache")
	}
}

func TestRemoveDropsSingleTour(t *testing.T) {
	gw := &loaderGateway{}
	r := NewRegistry(gw)

	ctx := context.Background()
	for _, tourID := range []int64{1, 2} {
		if _, err := r.With(ctx, "ada", tourID, snapshotFn); err != nil {
			t.Fatalf("With: %v", err)
		}
	}

	r.Remove("ada", 1)
	if r.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", r.Len())
	}
}

func TestWithContextCanceledDuringLoad(t *testing.T) {
	gw := &loaderGateway{loadGate: make(chan struct{})}
	defer close(gw.loadGate)
	r := NewRegistry(gw)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := r.With(ctx, "ada", 1, snapshotFn); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
}

// Commands on the same key are serialized by the session lock: two
// concurrent With calls never overlap inside fn.
func TestWithSerializesCommandsPerKey(t *testing.T) {
	gw := &loaderGateway{}
	r := NewRegistry(gw)

	var inside atomic.Int64
	var overlapped atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.With(context.Background(), "ada", 1, func(p *tour.Processor) []tour.Event {
				if inside.Add(1) > 1 {
					overlapped.Store(true)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			if err != nil {
				t.Errorf("With: %v", err)
			}
		}()
	}
	wg.Wait()

	if overlapped.Load() {
		t.Fatal("two commands ran concurrently on one session")
	}
}
