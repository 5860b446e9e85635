// Package digest assembles and schedules periodic summary pushes. Assembly
// itself is pluggable; this package owns the cron gate and the delivery of
// the formatted digest through the outbox.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/galaxyproto/caduceus/internal/orders"
)

const (
	maxPatterns   = 3
	maxReferences = 5
	maxActions    = 3
)

// Digest is the assembled summary for one push.
type Digest struct {
	Patterns   []string `json:"patterns"`
	References []string `json:"references"`
	Actions    []string `json:"actions"`
}

// Empty reports whether there is nothing worth pushing.
func (d *Digest) Empty() bool {
	return len(d.Patterns) == 0 && len(d.References) == 0 && len(d.Actions) == 0
}

// Assembler produces the digest content. The scheduler treats it as opaque.
type Assembler func(ctx context.Context) (*Digest, error)

// Format renders a digest as channel-ready HTML.
func Format(d *Digest, now time.Time) string {
	lines := []string{fmt.Sprintf("📊 <b>Daily Digest</b> (%s)", now.Format("2006-01-02")), ""}

	appendSection := func(header string, items []string, cap int) {
		if len(items) == 0 {
			return
		}
		lines = append(lines, fmt.Sprintf("%s (%d):", header, len(items)))
		if len(items) > cap {
			items = items[:cap]
		}
		for _, item := range items {
			lines = append(lines, "- "+item)
		}
		lines = append(lines, "")
	}
	appendSection("🔍 <b>New Patterns</b>", d.Patterns, maxPatterns)
	appendSection("📚 <b>New References</b>", d.References, maxReferences)
	appendSection("💡 <b>Action Items</b>", d.Actions, maxActions)

	lines = append(lines, "👉 /digest for full details")
	return strings.Join(lines, "\n")
}

// Scheduler fires the assembler on a cron cadence and posts the result to
// the outbox for broadcast delivery.
type Scheduler struct {
	expr     string
	assemble Assembler
	store    *orders.Store
	gron     *gronx.Gronx
	interval time.Duration
	now      func() time.Time

	lastFire time.Time
}

// NewScheduler validates the cron expression and creates a Scheduler.
func NewScheduler(expr string, assemble Assembler, store *orders.Store) (*Scheduler, error) {
	g := gronx.New()
	if !g.IsValid(expr) {
		return nil, fmt.Errorf("invalid digest cron expression %q", expr)
	}
	return &Scheduler{
		expr:     expr,
		assemble: assemble,
		store:    store,
		gron:     g,
		interval: 30 * time.Second,
		now:      time.Now,
	}, nil
}

// Run ticks until ctx is cancelled, firing when the cron expression is due.
func (s *Scheduler) Run(ctx context.Context) {
	slog.Info("digest scheduler started", "cron", s.expr)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires at most once per cron minute; the ticker resolution is finer
// than the cron's.
func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	due, err := s.gron.IsDue(s.expr, now)
	if err != nil {
		slog.Error("digest cron evaluation failed", "cron", s.expr, "error", err)
		return
	}
	minute := now.Truncate(time.Minute)
	if !due || minute.Equal(s.lastFire) {
		return
	}
	s.lastFire = minute
	s.fire(ctx, now)
}

func (s *Scheduler) fire(ctx context.Context, now time.Time) {
	d, err := s.assemble(ctx)
	if err != nil {
		slog.Error("digest assembly failed", "error", err)
		return
	}
	if d == nil || d.Empty() {
		slog.Info("digest skipped, nothing to report")
		return
	}

	n := orders.NewNotification(orders.SeverityInfo, "Daily Digest", Format(d, now))
	name := "digest-" + orders.NewOrderID(now, "") + ".json"
	if _, err := s.store.WriteOutbox(name, n); err != nil {
		slog.Error("digest notification write failed", "error", err)
		return
	}
	slog.Info("digest queued for delivery",
		"patterns", len(d.Patterns), "references", len(d.References), "actions", len(d.Actions))
}
