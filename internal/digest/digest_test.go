package digest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/galaxyproto/caduceus/internal/orders"
)

func TestFormat(t *testing.T) {
	d := &Digest{
		Patterns:   []string{"p1", "p2", "p3", "p4"},
		References: []string{"r1"},
		Actions:    []string{"a1", "a2"},
	}
	got := Format(d, time.Date(2026, 2, 23, 9, 0, 0, 0, time.UTC))

	if !strings.Contains(got, "Daily Digest</b> (2026-02-23)") {
		t.Errorf("header missing: %q", got)
	}
	if !strings.Contains(got, "New Patterns</b> (4):") {
		t.Errorf("pattern count missing: %q", got)
	}
	if strings.Contains(got, "- p4") {
		t.Error("pattern list not capped at 3")
	}
	if !strings.Contains(got, "- r1") || !strings.Contains(got, "- a2") {
		t.Errorf("sections missing: %q", got)
	}
	if !strings.Contains(got, "/digest for full details") {
		t.Error("footer missing")
	}

	empty := Format(&Digest{}, time.Now())
	if strings.Contains(empty, "Patterns") || strings.Contains(empty, "References") {
		t.Errorf("empty sections rendered: %q", empty)
	}
}

func TestNewSchedulerValidatesCron(t *testing.T) {
	store := orders.NewStore(t.TempDir())
	assemble := func(context.Context) (*Digest, error) { return &Digest{}, nil }

	if _, err := NewScheduler("0 9 * * *", assemble, store); err != nil {
		t.Errorf("valid cron rejected: %v", err)
	}
	if _, err := NewScheduler("not a cron", assemble, store); err == nil {
		t.Error("invalid cron accepted")
	}
}

func TestTickFiresOncePerMinute(t *testing.T) {
	store := orders.NewStore(t.TempDir())
	calls := 0
	assemble := func(context.Context) (*Digest, error) {
		calls++
		return &Digest{References: []string{"new repo"}}, nil
	}

	s, err := NewScheduler("* * * * *", assemble, store)
	if err != nil {
		t.Fatal(err)
	}
	at := time.Date(2026, 2, 23, 9, 0, 10, 0, time.UTC)
	s.now = func() time.Time { return at }

	s.tick(context.Background())
	at = at.Add(20 * time.Second)
	s.tick(context.Background())

	if calls != 1 {
		t.Fatalf("assembler called %d times within one minute", calls)
	}

	entries, err := store.ListUnsentOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("outbox entries = %d, want 1", len(entries))
	}
	n := entries[0].Notification
	if n.Severity != orders.SeverityInfo || n.From != "Daily Digest" {
		t.Errorf("notification = %+v", n)
	}
	if !strings.Contains(n.Message, "new repo") {
		t.Errorf("message = %q", n.Message)
	}

	// Next minute fires again.
	at = at.Add(time.Minute)
	s.tick(context.Background())
	if calls != 2 {
		t.Errorf("assembler not called in the next minute")
	}
}

func TestFireSkipsEmptyDigest(t *testing.T) {
	store := orders.NewStore(t.TempDir())
	s, err := NewScheduler("* * * * *", func(context.Context) (*Digest, error) {
		return &Digest{}, nil
	}, store)
	if err != nil {
		t.Fatal(err)
	}

	s.fire(context.Background(), time.Now())
	entries, err := store.ListUnsentOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("empty digest queued: %+v", entries)
	}
}

func TestFireToleratesAssemblerError(t *testing.T) {
	store := orders.NewStore(t.TempDir())
	s, err := NewScheduler("* * * * *", func(context.Context) (*Digest, error) {
		return nil, errors.New("no data source")
	}, store)
	if err != nil {
		t.Fatal(err)
	}

	s.fire(context.Background(), time.Now())
	entries, err := store.ListUnsentOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("failed assembly queued a digest: %+v", entries)
	}
}
