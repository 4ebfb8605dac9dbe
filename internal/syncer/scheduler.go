package syncer

import (
	"context"
	"log/slog"
	"time"

	"github.com/mkoval/walletcore/internal/bridge"
	"github.com/mkoval/walletcore/internal/store"
	"github.com/mkoval/walletcore/pkg/models"
)

// AccountEvent reports the outcome of one scheduled sync pass.
type AccountEvent struct {
	AccountID string
	Err       error
}

// Scheduler periodically re-synchronizes every stored account through its
// family bridge. Accounts are synced one at a time: a pass owns the account
// exclusively, and a slow indexer must not pile up concurrent passes.
type Scheduler struct {
	registry *bridge.Registry
	accounts store.AccountStore
	interval time.Duration
	events   chan AccountEvent
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(registry *bridge.Registry, accounts store.AccountStore, interval time.Duration) *Scheduler {
	return &Scheduler{
		registry: registry,
		accounts: accounts,
		interval: interval,
		events:   make(chan AccountEvent, 100),
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "scheduler"),
	}
}

// Start begins the periodic loop. Stop shuts it down.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("starting sync scheduler", "interval", s.interval)
	go s.loop(ctx)
	return nil
}

// Stop cancels the loop, waits for the in-flight pass to finish and closes
// the event stream.
func (s *Scheduler) Stop() error {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
	close(s.events)
	s.logger.Info("scheduler stopped")
	return nil
}

// Events returns the per-account outcome stream.
func (s *Scheduler) Events() <-chan AccountEvent {
	return s.events
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.syncAll(ctx)
		}
	}
}

func (s *Scheduler) syncAll(ctx context.Context) {
	accounts, err := s.accounts.List()
	if err != nil {
		s.logger.Error("list accounts", "error", err)
		return
	}
	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		s.emit(AccountEvent{AccountID: account.ID, Err: s.syncOne(ctx, account)})
	}
}

func (s *Scheduler) syncOne(ctx context.Context, account *models.Account) error {
	b, err := s.registry.AccountBridgeFor(account)
	if err != nil {
		return err
	}
	events, err := b.StartSync(ctx, account)
	if err != nil {
		return err
	}
	for ev := range events {
		if ev.Err != nil {
			s.logger.Error("sync failed", "account", account.ID, "error", ev.Err)
			return ev.Err
		}
	}
	return nil
}

func (s *Scheduler) emit(ev AccountEvent) {
	select {
	case s.events <- ev:
	default:
		// A full buffer means nobody is reading outcomes; drop rather
		// than stall the sync loop.
	}
}
