package position

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cryptotrader/internal/gateway/exchange"
	"cryptotrader/internal/logger"
	"cryptotrader/internal/store"
	"cryptotrader/internal/trading"

	"golang.org/x/sync/errgroup"
)

type PairError struct {
	Pair  string `json:"pair"`
	Error string `json:"error"`
}

type SyncReport struct {
	Pairs            int         `json:"pairs"`
	Positions        int         `json:"positions"`
	Updated          int         `json:"updated"`
	Closed           int         `json:"closed"`
	OrphansCancelled int         `json:"orphans_cancelled"`
	Failed           []PairError `json:"failed,omitempty"`
}

// SyncAll fetches one ticker per pair with open positions and re-prices
// every position of that pair, closing those whose triggers fire. A pair
// whose ticker cannot be fetched is reported and skipped; the others still
// sync.
func (m *Manager) SyncAll(ctx context.Context) (SyncReport, error) {
	var report SyncReport
	open, err := m.ledger.ListPositions(ctx, store.PositionFilter{Status: trading.PositionOpen})
	if err != nil {
		return report, err
	}
	byPair := make(map[string][]trading.Position)
	for _, p := range open {
		byPair[p.Pair] = append(byPair[p.Pair], p)
	}
	pairs := make([]string, 0, len(byPair))
	for pair := range byPair {
		pairs = append(pairs, pair)
	}
	sort.Strings(pairs)
	report.Pairs = len(pairs)
	report.Positions = len(open)

	var mu sync.Mutex
	g := new(errgroup.Group)
	if m.maxParallel > 0 {
		g.SetLimit(m.maxParallel)
	}
	for _, pair := range pairs {
		pair := pair
		positions := byPair[pair]
		g.Go(func() error {
			updated, closed, err := m.syncPair(ctx, pair, positions)
			mu.Lock()
			defer mu.Unlock()
			report.Updated += updated
			report.Closed += closed
			if err != nil {
				report.Failed = append(report.Failed, PairError{Pair: pair, Error: err.Error()})
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].Pair < report.Failed[j].Pair })

	report.OrphansCancelled = m.sweepOrphans(ctx)

	if still, err := m.ledger.ListPositions(ctx, store.PositionFilter{Status: trading.PositionOpen}); err == nil {
		m.metrics.SetOpenPositions(len(still))
	}
	if report.Closed > 0 || len(report.Failed) > 0 || report.OrphansCancelled > 0 {
		logger.Infof("PositionManager: sync pairs=%d positions=%d closed=%d orphans=%d failed=%d",
			report.Pairs, report.Positions, report.Closed, report.OrphansCancelled, len(report.Failed))
	}
	return report, nil
}

// marketPrice is the last trade price of pair, or the mid when the venue
// reports no last trade.
func (m *Manager) marketPrice(ctx context.Context, pair string) (float64, error) {
	var ticker exchange.Ticker
	if _, err := m.retrier.Do(ctx, exchange.OpTicker, func(ctx context.Context) error {
		var err error
		ticker, err = m.exchange.Ticker(ctx, pair)
		return err
	}); err != nil {
		return 0, err
	}
	price := ticker.Last
	if !(price > 0) {
		price = ticker.Mid()
	}
	if !(price > 0) {
		return 0, fmt.Errorf("ticker %s has no price", pair)
	}
	return price, nil
}

func (m *Manager) syncPair(ctx context.Context, pair string, positions []trading.Position) (updated, closed int, err error) {
	price, err := m.marketPrice(ctx, pair)
	if err != nil {
		logger.Warnf("PositionManager: ticker %s failed, %d position(s) not synced: %v", pair, len(positions), err)
		return 0, 0, err
	}
	for _, p := range positions {
		if ctx.Err() != nil {
			return updated, closed, ctx.Err()
		}
		after, err := m.UpdatePrice(ctx, p.ID, price)
		if err != nil {
			logger.Warnf("PositionManager: sync %s at %.8f failed: %v", p.ID, price, err)
			continue
		}
		updated++
		if !after.IsOpen() {
			closed++
		}
	}
	return updated, closed, nil
}

// sweepOrphans cancels protective orders still active on the ledger although
// their position is closed. These are left behind when a cancel failed
// during close.
func (m *Manager) sweepOrphans(ctx context.Context) int {
	active, err := m.orders.List(ctx, store.OrderFilter{
		Statuses: []trading.OrderStatus{trading.OrderPending, trading.OrderOpen, trading.OrderPartiallyFilled},
	})
	if err != nil {
		logger.Warnf("PositionManager: list active orders failed: %v", err)
		return 0
	}
	closedPositions := make(map[string]bool)
	cancelled := 0
	for _, o := range active {
		if o.PositionID == "" || !o.Kind.IsProtective() {
			continue
		}
		isClosed, seen := closedPositions[o.PositionID]
		if !seen {
			p, err := m.ledger.GetPosition(ctx, o.PositionID)
			isClosed = err == nil && !p.IsOpen()
			closedPositions[o.PositionID] = isClosed
		}
		if isClosed && m.cancelProtective(ctx, o.PositionID, o.ID) {
			cancelled++
		}
	}
	return cancelled
}
