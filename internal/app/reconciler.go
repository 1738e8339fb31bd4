package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradebridge/internal/domain"
	"tradebridge/internal/ports"
	"tradebridge/internal/vault"
)

// SyncOutcome is the per-trade result of one reconciliation pass.
type SyncOutcome string

const (
	SyncUpdated SyncOutcome = "updated"
	SyncSkipped SyncOutcome = "skipped"
	SyncFailed  SyncOutcome = "failed"
)

// TradeSync records what happened to one trade during a pass.
type TradeSync struct {
	TradeID string
	Outcome SyncOutcome
	PNL     float64
	Message string
}

// SyncReport aggregates one reconciliation pass.
type SyncReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Total     int
	Updated   int
	Skipped   int
	Failed    int
	Trades    []TradeSync
}

// SyncStatus is the operational view exposed over the API.
type SyncStatus struct {
	Running    bool
	Interval   time.Duration
	LastRun    *time.Time
	LastReport *SyncReport
}

// Reconciler recomputes unrealized P&L for every open trade on a fixed
// interval. Each trade is handled independently; one venue failure
// never aborts the pass, the next tick is the retry.
type Reconciler struct {
	trades     ports.TradeRepository
	strategies ports.StrategyRepository
	vault      *vault.Vault
	clients    ClientProvider
	logger     ports.Logger
	interval   time.Duration

	mu         sync.Mutex
	running    bool
	lastRun    *time.Time
	lastReport *SyncReport
}

// ReconcilerConfig holds configuration for the Reconciler.
type ReconcilerConfig struct {
	Trades     ports.TradeRepository
	Strategies ports.StrategyRepository
	Vault      *vault.Vault
	Clients    ClientProvider
	Logger     ports.Logger
	Interval   time.Duration // Defaults to 10s
}

// NewReconciler creates a position reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Trades == nil || cfg.Strategies == nil {
		return nil, fmt.Errorf("repositories are required for reconciler")
	}
	if cfg.Vault == nil {
		return nil, fmt.Errorf("vault is required for reconciler")
	}
	if cfg.Clients == nil {
		return nil, fmt.Errorf("client provider is required for reconciler")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for reconciler")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	return &Reconciler{
		trades:     cfg.Trades,
		strategies: cfg.Strategies,
		vault:      cfg.Vault,
		clients:    cfg.Clients,
		logger:     cfg.Logger,
		interval:   cfg.Interval,
	}, nil
}

// Run ticks SyncOnce until the context is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	r.mu.Lock()
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	r.logger.Info(ctx, "Position reconciliation loop started", map[string]interface{}{
		"interval": r.interval.String(),
	})
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info(ctx, "Position reconciliation loop stopped", nil)
			return
		case <-ticker.C:
			r.SyncOnce(ctx)
		}
	}
}

// SyncOnce reconciles every open trade once and returns the aggregate
// report. Safe to call concurrently with the loop; record updates are
// guarded by trade versions.
func (r *Reconciler) SyncOnce(ctx context.Context) *SyncReport {
	op := "SyncOnce"
	started := time.Now().UTC()
	report := &SyncReport{StartedAt: started}

	open, err := r.trades.FindTradesByStatus(ctx, domain.StatusOpen)
	if err != nil {
		r.logger.Error(ctx, err, "Failed to list open trades", map[string]interface{}{"op": op})
		report.Duration = time.Since(started)
		r.record(report)
		return report
	}

	report.Total = len(open)
	report.Trades = make([]TradeSync, len(open))

	var wg sync.WaitGroup
	for i, trade := range open {
		wg.Add(1)
		go func(i int, trade *domain.Trade) {
			defer wg.Done()
			report.Trades[i] = r.syncTrade(ctx, trade)
		}(i, trade)
	}
	wg.Wait()

	for _, ts := range report.Trades {
		switch ts.Outcome {
		case SyncUpdated:
			report.Updated++
		case SyncSkipped:
			report.Skipped++
		case SyncFailed:
			report.Failed++
		}
	}
	report.Duration = time.Since(started)

	if report.Failed > 0 {
		r.logger.Warn(ctx, "Reconciliation pass completed with failures", map[string]interface{}{
			"op": op, "total": report.Total, "updated": report.Updated,
			"skipped": report.Skipped, "failed": report.Failed,
		})
	} else if report.Total > 0 {
		r.logger.Debug(ctx, "Reconciliation pass completed", map[string]interface{}{
			"op": op, "total": report.Total, "updated": report.Updated, "skipped": report.Skipped,
		})
	}

	r.record(report)
	return report
}

// ForceSync runs one pass synchronously, for the manual trigger endpoint.
func (r *Reconciler) ForceSync(ctx context.Context) *SyncReport {
	r.logger.Info(ctx, "Manual reconciliation triggered", nil)
	return r.SyncOnce(ctx)
}

// Status reports the loop state and the last completed pass.
func (r *Reconciler) Status() SyncStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return SyncStatus{
		Running:    r.running,
		Interval:   r.interval,
		LastRun:    r.lastRun,
		LastReport: r.lastReport,
	}
}

func (r *Reconciler) record(report *SyncReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := report.StartedAt
	r.lastRun = &ts
	r.lastReport = report
}

func (r *Reconciler) syncTrade(ctx context.Context, trade *domain.Trade) TradeSync {
	result := TradeSync{TradeID: trade.ID}

	strategy, err := r.strategies.FindStrategyByID(ctx, trade.StrategyID)
	if err != nil {
		result.Outcome = SyncFailed
		result.Message = fmt.Sprintf("strategy lookup failed: %v", err)
		r.logger.Error(ctx, err, "Reconciliation strategy lookup failed", map[string]interface{}{
			"tradeID": trade.ID, "strategyID": trade.StrategyID,
		})
		return result
	}
	// Orphaned trades are the close workflow's problem; paused and
	// dry-run strategies are not reconciled at all.
	if strategy == nil || !strategy.IsActive || strategy.IsDryRun {
		result.Outcome = SyncSkipped
		return result
	}

	apiKey, apiSecret, err := decryptCredentials(r.vault, strategy)
	if err != nil {
		result.Outcome = SyncFailed
		result.Message = fmt.Sprintf("credential decryption failed: %v", err)
		r.logger.Error(ctx, err, "Reconciliation credential decryption failed", map[string]interface{}{
			"tradeID": trade.ID, "strategyID": strategy.ID,
		})
		return result
	}

	client, err := r.clients.Get(ctx, strategy.Exchange, apiKey, apiSecret, strategy.IsTestnet)
	if err != nil {
		result.Outcome = SyncFailed
		result.Message = fmt.Sprintf("exchange client unavailable: %v", err)
		return result
	}

	price, err := client.GetCurrentPrice(ctx, trade.Symbol)
	if err != nil {
		result.Outcome = SyncFailed
		result.Message = fmt.Sprintf("price fetch failed: %v", err)
		r.logger.Warn(ctx, "Reconciliation price fetch failed", map[string]interface{}{
			"tradeID": trade.ID, "symbol": trade.Symbol, "error": err.Error(),
		})
		return result
	}

	pnl := UnrealizedPNL(trade.Side, trade.EntryPrice, price, trade.Quantity)
	if err := r.trades.UpdateTradePNL(ctx, trade.ID, pnl, trade.Version); err != nil {
		if errors.Is(err, ports.ErrConflict) || errors.Is(err, ports.ErrNotFound) {
			// Lost the race against a concurrent close. Nothing to do,
			// the record already advanced past us.
			result.Outcome = SyncSkipped
			result.Message = "trade changed concurrently"
			return result
		}
		result.Outcome = SyncFailed
		result.Message = fmt.Sprintf("pnl update failed: %v", err)
		return result
	}

	result.Outcome = SyncUpdated
	result.PNL = pnl
	return result
}

// UnrealizedPNL values an open position at the current price.
func UnrealizedPNL(side domain.OrderSide, entry, current, quantity float64) float64 {
	if side == domain.Sell {
		return (entry - current) * quantity
	}
	return (current - entry) * quantity
}
