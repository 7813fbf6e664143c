package savequeue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/testutil"
)

func snapshot(content string) models.CardProp {
	p := models.NewCardProp("card", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	p.Content = content
	return p
}

// gate blocks the first Put until released.
type gate struct {
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) hook(models.CardProp) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return nil
}

func TestDrainIdleReturnsImmediately(t *testing.T) {
	q := New("card", testutil.NewMemStore(), testutil.Logger(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := q.Drain(ctx, 0, nil); err != nil {
		t.Fatalf("Drain on idle pipeline: %v", err)
	}
}

func TestCoalescingKeepsOnlyNewest(t *testing.T) {
	ms := testutil.NewMemStore()
	g := newGate()
	ms.BeforePut = g.hook
	q := New("card", ms, testutil.Logger(), nil)

	q.Enqueue(snapshot("v1"))
	<-g.entered // v1 is in flight

	for _, c := range []string{"v2", "v3", "v4", "v5"} {
		q.Enqueue(snapshot(c))
	}
	close(g.release)

	if err := q.Drain(context.Background(), 0, nil); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	puts := ms.Puts()
	if len(puts) != 2 {
		t.Fatalf("puts = %d, want 2 (in-flight + newest pending)", len(puts))
	}
	if puts[0].Content != "v1" || puts[1].Content != "v5" {
		t.Errorf("persisted %q then %q, want v1 then v5", puts[0].Content, puts[1].Content)
	}
	rec, _ := ms.Record("card")
	if rec.Content != "v5" {
		t.Errorf("final record = %q, want v5", rec.Content)
	}
}

func TestAtMostOneWriteInFlight(t *testing.T) {
	ms := testutil.NewMemStore()
	var inFlight, maxInFlight atomic.Int32
	ms.BeforePut = func(models.CardProp) error {
		n := inFlight.Add(1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	}
	q := New("card", ms, testutil.Logger(), nil)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Enqueue(snapshot(string(rune('a' + i))))
		}(i)
	}
	wg.Wait()
	q.Enqueue(snapshot("last"))
	if err := q.Drain(context.Background(), 0, nil); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if maxInFlight.Load() != 1 {
		t.Errorf("max concurrent writes = %d, want 1", maxInFlight.Load())
	}
	rec, _ := ms.Record("card")
	if rec.Content != "last" {
		t.Errorf("final record = %q, want last", rec.Content)
	}
}

func TestConflictSurfacedThenNextEnqueueSucceeds(t *testing.T) {
	ms := testutil.NewMemStore()
	var once sync.Once
	ms.BeforePut = func(p models.CardProp) error {
		once.Do(func() {
			// Another writer sneaks in between the revision read and the put.
			ms.Seed(snapshot("external"))
		})
		return nil
	}
	var results []Result
	var mu sync.Mutex
	q := New("card", ms, testutil.Logger(), func(r Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	})

	local := snapshot("mine")
	q.Enqueue(local)
	err := q.Drain(context.Background(), 0, nil)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("Drain err = %v, want conflict", err)
	}
	if local.Content != "mine" {
		t.Error("local snapshot mutated")
	}

	q.Enqueue(snapshot("fresh"))
	if err := q.Drain(context.Background(), 0, nil); err != nil {
		t.Fatalf("second Drain: %v", err)
	}
	rec, _ := ms.Record("card")
	if rec.Content != "fresh" {
		t.Errorf("record = %q, want fresh", rec.Content)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(results) != 2 || results[0].Err == nil || results[1].Err != nil || results[1].Revision == "" {
		t.Errorf("results = %+v", results)
	}
	if !results[1].Idle {
		t.Error("last result should report idle")
	}
}

func TestTransportErrorNotRetried(t *testing.T) {
	ms := testutil.NewMemStore()
	var calls atomic.Int32
	boom := &apperr.TransportError{Op: "put", Err: errors.New("disk full")}
	ms.BeforePut = func(models.CardProp) error {
		calls.Add(1)
		return boom
	}
	q := New("card", ms, testutil.Logger(), nil)
	q.Enqueue(snapshot("x"))
	if err := q.Drain(context.Background(), 0, nil); !errors.Is(err, apperr.ErrTransport) {
		t.Fatalf("Drain err = %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 1 {
		t.Errorf("put attempts = %d, want 1", calls.Load())
	}
}

func TestDrainSlowCallbackCancel(t *testing.T) {
	ms := testutil.NewMemStore()
	g := newGate()
	ms.BeforePut = g.hook
	q := New("card", ms, testutil.Logger(), nil)
	q.Enqueue(snapshot("v1"))
	<-g.entered
	defer close(g.release)

	var fired atomic.Int32
	err := q.Drain(context.Background(), 10*time.Millisecond, func(context.Context) bool {
		fired.Add(1)
		return false
	})
	if !errors.Is(err, apperr.ErrDrainCancelled) {
		t.Fatalf("err = %v, want ErrDrainCancelled", err)
	}
	if fired.Load() != 1 {
		t.Errorf("onSlow fired %d times", fired.Load())
	}
}

func TestDrainSlowCallbackKeepWaiting(t *testing.T) {
	ms := testutil.NewMemStore()
	g := newGate()
	ms.BeforePut = g.hook
	q := New("card", ms, testutil.Logger(), nil)
	q.Enqueue(snapshot("v1"))
	<-g.entered

	var fired atomic.Int32
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(g.release)
	}()
	err := q.Drain(context.Background(), 5*time.Millisecond, func(context.Context) bool {
		fired.Add(1)
		return true
	})
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if fired.Load() != 1 {
		t.Errorf("onSlow fired %d times, want exactly 1", fired.Load())
	}
	if len(ms.Puts()) != 1 {
		t.Errorf("puts = %d", len(ms.Puts()))
	}
}

func TestDrainContextCancelled(t *testing.T) {
	ms := testutil.NewMemStore()
	g := newGate()
	ms.BeforePut = g.hook
	q := New("card", ms, testutil.Logger(), nil)
	q.Enqueue(snapshot("v1"))
	<-g.entered
	defer close(g.release)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := q.Drain(ctx, 0, nil)
	if !errors.Is(err, apperr.ErrDrainCancelled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestDrainAll(t *testing.T) {
	ms := testutil.NewMemStore()
	var queues []*Pipeline
	for _, id := range []models.CardID{"a", "b", "c"} {
		q := New(id, ms, testutil.Logger(), nil)
		p := snapshot("content " + string(id))
		p.ID = id
		q.Enqueue(p)
		queues = append(queues, q)
	}
	if err := DrainAll(context.Background(), queues, time.Second, func(context.Context) bool { return true }); err != nil {
		t.Fatalf("DrainAll: %v", err)
	}
	if ms.Len() != 3 {
		t.Errorf("records = %d, want 3", ms.Len())
	}
	for _, q := range queues {
		if q.Busy() {
			t.Error("pipeline still busy after DrainAll")
		}
	}
}

func TestCorruptRecordIsOverwritten(t *testing.T) {
	ms := testutil.NewMemStore()
	ms.Seed(snapshot("old"))
	ms.Corrupt("card")
	q := New("card", ms, testutil.Logger(), nil)

	q.Enqueue(snapshot("new text"))
	if err := q.Drain(context.Background(), 0, nil); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if _, _, err := ms.Get(context.Background(), "card"); err != nil {
		t.Fatalf("record still unreadable: %v", err)
	}
	if rec, _ := ms.Record("card"); rec.Content != "new text" {
		t.Errorf("record = %q", rec.Content)
	}
}
