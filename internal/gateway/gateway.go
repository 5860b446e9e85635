// Package gateway assembles the Caduceus daemon from configuration: user
// store, message bus, channels, executor, and the background pollers, all
// supervised until a shutdown signal arrives.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/galaxyproto/caduceus/internal/auth"
	"github.com/galaxyproto/caduceus/internal/bus"
	"github.com/galaxyproto/caduceus/internal/channels"
	"github.com/galaxyproto/caduceus/internal/channels/telegram"
	"github.com/galaxyproto/caduceus/internal/channels/web"
	"github.com/galaxyproto/caduceus/internal/config"
	"github.com/galaxyproto/caduceus/internal/digest"
	"github.com/galaxyproto/caduceus/internal/executor"
	"github.com/galaxyproto/caduceus/internal/feed"
	"github.com/galaxyproto/caduceus/internal/machines"
	"github.com/galaxyproto/caduceus/internal/orders"
	"github.com/galaxyproto/caduceus/internal/sessions"
)

const defaultDigestCron = "0 9 * * *"

// Gateway wires every subsystem together for one daemon process. All state
// lives in the default machine's repository checkout.
type Gateway struct {
	cfg      *config.Config
	root     string
	bus      *bus.MessageBus
	users    *auth.Store
	registry *machines.Registry
	store    *orders.Store
	events   *sessions.EventLog

	manager    *channels.Manager
	poller     *channels.AckPoller
	dispatcher *channels.OutboxDispatcher
	exec       *executor.Executor

	feed     *feed.Processor
	enricher *feed.Enricher
	digest   *digest.Scheduler
}

// New builds a Gateway from config. It fails when no channel would start;
// a gateway nobody can reach only burns orders.
func New(cfg *config.Config) (*Gateway, error) {
	registry := machines.NewRegistry(cfg)
	machine, ok := registry.Resolve("")
	if !ok {
		return nil, fmt.Errorf("default machine %q is not registered", registry.DefaultName())
	}
	root := machine.RepoPath

	store := orders.NewStore(root)
	events := sessions.NewEventLog(root)
	msgBus := bus.NewMessageBus()

	users, err := auth.Open(config.ExpandHome(cfg.Auth.DBPath), cfg.Auth.JWTSecret, cfg.TokenExpiry())
	if err != nil {
		return nil, fmt.Errorf("open user store: %w", err)
	}

	poller := channels.NewAckPoller(store, msgBus, cfg.PollInterval())
	manager := channels.NewManager(msgBus)

	if cfg.TelegramEnabled() {
		tg, err := telegram.New(cfg.TelegramToken, msgBus, cfg.AuthorizedUsers, registry, poller)
		if err != nil {
			users.Close()
			return nil, fmt.Errorf("telegram channel: %w", err)
		}
		manager.Register(tg)
	}
	if cfg.Web.Enabled {
		wc, err := web.New(cfg, msgBus, users, events)
		if err != nil {
			users.Close()
			return nil, fmt.Errorf("web channel: %w", err)
		}
		manager.Register(wc)
	}
	if len(manager.Names()) == 0 {
		users.Close()
		return nil, fmt.Errorf("no channels configured: set telegramToken or enable web")
	}

	broadcast := "web"
	if cfg.TelegramEnabled() {
		broadcast = "telegram"
	}

	g := &Gateway{
		cfg:        cfg,
		root:       root,
		bus:        msgBus,
		users:      users,
		registry:   registry,
		store:      store,
		events:     events,
		manager:    manager,
		poller:     poller,
		dispatcher: channels.NewOutboxDispatcher(store, manager, broadcast, cfg.AuthorizedUsers, cfg.PollInterval()/2),
		exec:       executor.New(store, cfg.ExecutorTimeout(), cfg.ExecutorPollInterval()),
	}

	if cfg.Features.Enrichment {
		g.enricher = feed.NewEnricher(root, store, events)
	}
	g.feed = feed.NewProcessor(root, feed.URLExtractor{}, g.enricher)

	if cfg.Features.Scheduler {
		cron := cfg.Features.DigestCron
		if cron == "" {
			cron = defaultDigestCron
		}
		scheduler, err := digest.NewScheduler(cron, g.assembleDigest, store)
		if err != nil {
			users.Close()
			return nil, err
		}
		g.digest = scheduler
	}

	return g, nil
}

// Run starts every subsystem and blocks until ctx is cancelled or a SIGINT
// or SIGTERM arrives. Enrichment jobs are drained before returning.
func (g *Gateway) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer g.users.Close()

	g.events.Log("daemon_started", map[string]any{
		"component":  "caduceus-gateway",
		"channels":   g.manager.Names(),
		"orders_dir": g.store.OrdersDir(),
	})
	slog.Info("gateway started", "channels", g.manager.Names(), "orders_dir", g.store.OrdersDir())

	if err := g.manager.StartAll(ctx); err != nil {
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		g.exec.Loop(gctx, &inboundIntercept{MessageRouter: g.bus, gw: g})
		return nil
	})
	grp.Go(func() error {
		g.poller.Run(gctx)
		return nil
	})
	grp.Go(func() error {
		g.dispatcher.Run(gctx)
		return nil
	})
	if g.digest != nil {
		grp.Go(func() error {
			g.digest.Run(gctx)
			return nil
		})
	}
	err := grp.Wait()

	g.manager.StopAll(context.Background())
	if g.enricher != nil {
		slog.Info("draining enrichment jobs")
		g.enricher.Wait()
	}
	g.events.Log("daemon_stopped", map[string]any{"component": "caduceus-gateway"})
	slog.Info("gateway stopped")
	return err
}

// Summary describes the effective configuration. Used by test mode, which
// validates wiring and exits without starting anything.
func (g *Gateway) Summary() string {
	names := g.manager.Names()
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "channels:        %s\n", strings.Join(names, ", "))
	fmt.Fprintf(&b, "default machine: %s (%s)\n", g.registry.DefaultName(), g.root)
	fmt.Fprintf(&b, "machines:        %s\n", strings.Join(g.registry.Names(), ", "))
	fmt.Fprintf(&b, "orders dir:      %s\n", g.store.OrdersDir())
	if g.cfg.Web.Enabled {
		fmt.Fprintf(&b, "web:             %s:%d\n", g.cfg.Web.Host, g.cfg.Web.Port)
	}
	fmt.Fprintf(&b, "enrichment:      %v\n", g.cfg.Features.Enrichment)
	if g.digest != nil {
		cron := g.cfg.Features.DigestCron
		if cron == "" {
			cron = defaultDigestCron
		}
		fmt.Fprintf(&b, "digest cron:     %s\n", cron)
	}
	return b.String()
}

// Close releases resources without running. Run closes them itself.
func (g *Gateway) Close() error {
	return g.users.Close()
}

// assembleDigest builds the scheduled digest from references captured in the
// last day.
func (g *Gateway) assembleDigest(_ context.Context) (*digest.Digest, error) {
	refs, err := feed.RecentReferences(g.root, time.Now().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	return &digest.Digest{References: refs}, nil
}
