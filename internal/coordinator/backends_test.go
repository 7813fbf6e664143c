package coordinator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/pinboard/internal/apperr"
	"github.com/starford/pinboard/internal/bridge"
	"github.com/starford/pinboard/internal/models"
	"github.com/starford/pinboard/internal/sse"
	"github.com/starford/pinboard/internal/store"
	"github.com/starford/pinboard/internal/testutil"
)

func TestEditedCorruptFileIsOverwrittenOnClose(t *testing.T) {
	dir := t.TempDir()
	adapter := store.NewAdapter(func() (store.Engine, error) {
		return store.NewFS(dir, testutil.Logger())
	})
	t.Cleanup(func() { _ = adapter.Close() })
	path := filepath.Join(dir, "bad.md")
	if err := os.WriteFile(path, []byte("---\nx: [unterminated\n---\nold"), 0o644); err != nil {
		t.Fatal(err)
	}

	host := newFakeHost()
	c := New(adapter, host, WithLogger(testutil.Logger()), WithCloseTimeout(2*time.Second))
	t.Cleanup(c.Close)
	ctx := testutil.Ctx(t)

	v, err := c.CreateCard(ctx, "bad")
	if err != nil {
		t.Fatalf("CreateCard: %v", err)
	}
	if v.Revision != "" || v.Prop.Content != "" {
		t.Errorf("corrupt record not replaced by default: %+v", v)
	}
	if _, err := c.StartEditing(ctx, "bad"); err != nil {
		t.Fatal(err)
	}
	host.content("bad").typeText("new text")
	if _, err := c.FinishEditing(ctx, "bad"); err != nil {
		t.Fatal(err)
	}
	if err := c.CloseCard(ctx, "bad", nil); err != nil {
		t.Fatalf("CloseCard: %v", err)
	}

	got, _, err := adapter.Get(ctx, "bad")
	if err != nil {
		t.Fatalf("file still unreadable: %v", err)
	}
	if got.Content != "new text" {
		t.Errorf("content = %q", got.Content)
	}
}

func TestUnansweredWindowFailsToLoad(t *testing.T) {
	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)
	br := bridge.New(broker, testutil.Logger(), 50*time.Millisecond, bridge.WithReadyTimeout(100*time.Millisecond))
	c := New(testutil.NewMemStore(), br, WithLogger(testutil.Logger()))
	t.Cleanup(c.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err := c.CreateCard(ctx, "ghost")
	if !errors.Is(err, apperr.ErrWindowLoad) {
		t.Fatalf("err = %v, want window load error", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("CreateCard took %v", elapsed)
	}
	if _, err := c.Card("ghost"); !errors.Is(err, apperr.ErrUnknownCard) {
		t.Errorf("failed card still registered: %v", err)
	}
	if n := broker.Retained(); n != 0 {
		t.Errorf("retained commands = %d after the card was discarded", n)
	}

	_, err = c.CreateCard(ctx, "ghost")
	if errors.Is(err, apperr.ErrAlreadyExists) {
		t.Fatal("discarded id is still taken")
	}
	if !errors.Is(err, apperr.ErrWindowLoad) {
		t.Errorf("retry err = %v", err)
	}
}

func TestRestoreAllDoesNotWaitOnUnansweredWindows(t *testing.T) {
	broker := sse.NewBroker(time.Second)
	t.Cleanup(broker.Close)
	br := bridge.New(broker, testutil.Logger(), 50*time.Millisecond, bridge.WithReadyTimeout(100*time.Millisecond))
	mem := testutil.NewMemStore()
	for _, id := range []models.CardID{"a", "b", "c", "d", "e", "f"} {
		p := models.NewCardProp(id, time.Now())
		p.Content = "note"
		mem.Seed(p)
	}
	c := New(mem, br, WithLogger(testutil.Logger()))
	t.Cleanup(c.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	n, err := c.RestoreAll(ctx)
	if err != nil {
		t.Fatalf("RestoreAll: %v", err)
	}
	if n != 0 {
		t.Errorf("opened = %d, want 0", n)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("RestoreAll took %v", elapsed)
	}
}
