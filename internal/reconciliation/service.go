// Package reconciliation runs the periodic stale-trade sweep: OPEN trades
// whose venue position is already flat get cancelled so the books match the
// exchange.
package reconciliation

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/gateway"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/internal/trades"
	"github.com/justinhsu1477/crypto-signal-trader-sub000/pkg/db"
)

// Service sweeps every broadcast-eligible user on a fixed interval.
type Service struct {
	store    *trades.Store
	users    *db.UserQueries
	gateways *gateway.Manager
	interval time.Duration
}

// NewService creates the sweep service.
func NewService(store *trades.Store, users *db.UserQueries, gateways *gateway.Manager, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Service{
		store:    store,
		users:    users,
		gateways: gateways,
		interval: interval,
	}
}

// Start runs the sweep loop until the context ends.
func (s *Service) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.RunOnce(ctx); err != nil {
					log.Printf("stale trade sweep: %v", err)
				}
			}
		}
	}()
}

// RunOnce sweeps all users and returns how many trades were cleaned. Users
// without credentials are skipped; a venue error skips the user rather than
// cancelling under uncertainty.
func (s *Service) RunOnce(ctx context.Context) (int, error) {
	users, err := s.users.ListBroadcastTargets(ctx)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, u := range users {
		client, err := s.gateways.ClientFor(ctx, u.ID)
		if err != nil {
			if !errors.Is(err, gateway.ErrNoAPIKey) {
				log.Printf("stale trade sweep: client for %s: %v", u.ID, err)
			}
			continue
		}
		cleaned, err := s.store.CleanupStaleTrades(ctx, u.ID, client.GetCurrentPositionAmount)
		if err != nil {
			log.Printf("stale trade sweep: user %s: %v", u.ID, err)
			continue
		}
		total += cleaned
	}
	return total, nil
}
