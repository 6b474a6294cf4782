package trader

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"kiwoom-trade-bot-go/internal/config"
	"kiwoom-trade-bot-go/internal/journal"
	"kiwoom-trade-bot-go/internal/kiwoom"
	"kiwoom-trade-bot-go/internal/models"
	"kiwoom-trade-bot-go/internal/signal"
)

// PriceFeed is the realtime price stream the engine monitors through.
type PriceFeed interface {
	Run(ctx context.Context) error
	Register(stockCode string) error
	Unregister(stockCode string) error
	OnTick(handler kiwoom.TickHandler)
}

// SignalSource delivers stock pick signals.
type SignalSource interface {
	Run(ctx context.Context) error
	Signals() <-chan signal.Signal
}

// Notifier delivers progress messages to the operator.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Engine is the core trading engine. It drives the position lifecycle:
// signal, daily gate, sizing, buy, fill reconciliation, tick monitoring,
// exit, outstanding-order resolution. At most one position is open at any
// time and at most one buy happens per calendar day.
type Engine struct {
	logger   *zap.Logger
	cfg      *config.Config
	gateway  kiwoom.Gateway
	db       *gorm.DB
	journal  *journal.Writer
	notifier Notifier
	feed     PriceFeed
	source   SignalSource

	gate       *DailyTradeGate
	reconciler *FillReconciler
	tracker    *PositionTracker
	exits      *ExitDecisionEngine
	resolver   *OutstandingOrderResolver

	ticks chan models.PriceTick

	mu       sync.Mutex
	position *models.Position
	flags    models.ExitFlags

	UUID      string
	StartTime time.Time
}

// NewEngine wires the trading engine and installs its tick handler on the
// price feed.
func NewEngine(tc TradingContext, db *gorm.DB, jw *journal.Writer, notifier Notifier, feed PriceFeed, source SignalSource) *Engine {
	gate := NewDailyTradeGate(tc.Cfg, tc.Logger)
	e := &Engine{
		logger:   tc.Logger,
		cfg:      tc.Cfg,
		gateway:  tc.Gateway,
		db:       db,
		journal:  jw,
		notifier: notifier,
		feed:     feed,
		source:   source,

		gate:       gate,
		reconciler: NewFillReconciler(tc),
		tracker:    NewPositionTracker(tc, gate),
		exits:      NewExitDecisionEngine(tc),
		resolver:   NewOutstandingOrderResolver(tc),

		ticks:     make(chan models.PriceTick, 256),
		UUID:      uuid.NewString(),
		StartTime: time.Now(),
	}
	feed.OnTick(e.ingestTick)
	return e
}

// Run starts the feed, the signal source, and the lifecycle loop, and
// blocks until the context is cancelled or a task fails.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("Starting trading engine", zap.String("uuid", e.UUID))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return e.feed.Run(ctx) })
	g.Go(func() error { return e.source.Run(ctx) })
	g.Go(func() error { return e.lifecycle(ctx) })

	err := g.Wait()
	e.reportLingeringOrders()
	if errors.Is(err, context.Canceled) {
		e.logger.Info("Trading engine stopped")
		return nil
	}
	return err
}

// lifecycle restores any position left from a previous run, then serves
// signals one at a time. Monitoring blocks the loop: while a position is
// open, new signals wait in the channel and are declined by the gate later.
func (e *Engine) lifecycle(ctx context.Context) error {
	if err := e.restore(ctx); err != nil {
		e.logger.Warn("Position restore failed, starting flat", zap.Error(err))
	}
	if e.Position() != nil {
		e.monitor(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-e.source.Signals():
			mtxSignals.Inc()
			if err := e.handleSignal(ctx, sig); err != nil {
				e.logger.Error("Buy attempt failed", zap.Error(err))
			}
			if e.Position() != nil {
				e.monitor(ctx)
			}
		}
	}
}

// restore rebuilds the position from the account balance after a restart.
// The entry time only survives when the lock file records a buy of the same
// stock on the same day; without it the stop-loss delay is skipped.
func (e *Engine) restore(ctx context.Context) error {
	holdings, err := e.gateway.Holdings(ctx)
	if err != nil {
		return fmt.Errorf("could not query account balance: %w", err)
	}
	if len(holdings) == 0 {
		e.logger.Info("No holdings found, waiting for signals")
		return nil
	}

	h := holdings[0]
	pos := &models.Position{
		StockCode:        h.StockCode,
		StockName:        h.StockName,
		EntryPrice:       h.AvgPrice,
		Quantity:         h.Quantity,
		TargetProfitRate: e.cfg.Trading.TargetProfitRate,
		Verified:         true,
	}
	if lock, err := e.gate.Load(); err == nil && lock != nil &&
		lock.StockCode == h.StockCode && lock.TradedOn(time.Now()) {
		pos.EntryTime = lock.EntryTime()
	}

	e.setPosition(pos)
	e.setFlags(models.ExitFlags{BuyOrderPlaced: true})
	e.logger.Info("Restored position from account balance",
		zap.String("stock_code", pos.StockCode),
		zap.String("stock_name", pos.StockName),
		zap.Int64("entry_price", pos.EntryPrice),
		zap.Int64("quantity", pos.Quantity),
		zap.Time("entry_time", pos.EntryTime),
	)
	e.notify(ctx, fmt.Sprintf("포지션 복원: %s(%s) %d주 @ %s원",
		pos.StockName, pos.StockCode, pos.Quantity, formatWon(pos.EntryPrice)))
	return nil
}

// handleSignal runs the buy path for one signal. Returning nil without
// opening a position means the signal was declined, not that it failed.
func (e *Engine) handleSignal(ctx context.Context, sig signal.Signal) error {
	now := time.Now()
	l := e.logger.With(
		zap.String("stock_code", sig.StockCode),
		zap.String("stock_name", sig.StockName),
	)

	if e.Position() != nil {
		l.Info("Already holding a position, ignoring signal")
		return nil
	}
	if e.gate.HasTradedToday(now) {
		l.Info("Daily trade already used, ignoring signal")
		return nil
	}
	if !e.gate.IsBuyWindowOpen(now) {
		l.Info("Outside the buy window, ignoring signal",
			zap.String("window", e.cfg.Trading.BuyStartTime+"-"+e.cfg.Trading.BuyEndTime))
		return nil
	}

	price, err := e.gateway.CurrentPrice(ctx, sig.StockCode)
	if err != nil {
		return fmt.Errorf("could not get current price for %s: %w", sig.StockCode, err)
	}
	l = l.With(zap.Int64("current_price", price))
	l.Info("Signal accepted, executing buy")

	e.setFlags(models.ExitFlags{BuyOrderPlaced: true})
	pos, orderID, err := e.executeBuy(ctx, sig, price, now)
	if err != nil {
		e.setFlags(models.ExitFlags{})
		mtxOrderFailures.WithLabelValues("buy").Inc()
		return err
	}
	if pos == nil {
		e.setFlags(models.ExitFlags{})
		return nil
	}

	e.setPosition(pos)
	e.gate.RecordTrade(pos.StockCode, pos.StockName, pos.EntryPrice, pos.Quantity, now)
	e.recordEvent(models.EventBuy, pos, pos.EntryPrice, 0, orderID)
	e.notify(ctx, fmt.Sprintf("매수 완료: %s(%s) %d주 @ %s원",
		pos.StockName, pos.StockCode, pos.Quantity, formatWon(pos.EntryPrice)))
	l.Info("Position opened",
		zap.Int64("entry_price", pos.EntryPrice),
		zap.Int64("quantity", pos.Quantity),
		zap.Bool("verified", pos.Verified),
	)
	return nil
}

// executeBuy sizes and places the buy order, reconciling limit orders into
// a settled position. Market buys return an estimated position that the
// first tick verifies against the balance.
func (e *Engine) executeBuy(ctx context.Context, sig signal.Signal, price int64, now time.Time) (*models.Position, string, error) {
	orderType := kiwoom.OrderTypeMarket
	var orderPrice int64
	if e.cfg.Trading.BuyOrderType == config.BuyOrderTypeLimitPlusOneTick {
		orderType = kiwoom.OrderTypeLimit
		orderPrice = LimitBuyPrice(price)
	}

	reference := price
	if orderPrice > 0 {
		reference = orderPrice
	}
	quantity := OrderQuantity(reference, e.cfg.Trading.MaxInvestment)
	if quantity <= 0 {
		e.logger.Warn("Budget buys zero shares, declining signal",
			zap.Int64("price", reference),
			zap.Int64("max_investment", e.cfg.Trading.MaxInvestment),
		)
		return nil, "", nil
	}

	result, err := e.gateway.PlaceBuy(ctx, sig.StockCode, quantity, orderType, orderPrice)
	if err != nil {
		return nil, "", fmt.Errorf("buy order failed: %w", err)
	}
	mtxOrders.WithLabelValues("buy", string(orderType)).Inc()

	pos := &models.Position{
		StockCode:        sig.StockCode,
		StockName:        sig.StockName,
		EntryPrice:       price, // estimate until verified
		Quantity:         result.Quantity,
		EntryTime:        now,
		TargetProfitRate: e.cfg.Trading.TargetProfitRate,
	}
	if orderType == kiwoom.OrderTypeMarket {
		return pos, result.OrderID, nil
	}

	pos.EntryPrice = orderPrice
	fill := e.reconciler.Reconcile(ctx, result.OrderID, sig.StockCode, result.Quantity)
	switch fill.Status {
	case FillStatusFull, FillStatusPartial:
		pos.Verified = true
		pos.Quantity = fill.FilledQuantity
		if fill.AvgFillPrice > 0 {
			pos.EntryPrice = fill.AvgFillPrice
		}
		if fill.Status == FillStatusPartial && !fill.RemainderCancelled {
			pos.PendingBuyOrderID = result.OrderID
		}
		e.logger.Info("Buy order reconciled",
			zap.String("status", string(fill.Status)),
			zap.Int64("filled", fill.FilledQuantity),
			zap.Int64("entry_price", pos.EntryPrice),
		)
		return pos, result.OrderID, nil

	default: // unfilled
		if !fill.RemainderCancelled {
			// The withdrawal failed, so the order may still execute. Buying
			// again on top of it risks a double position.
			e.logger.Warn("Unfilled buy could not be withdrawn, declining signal",
				zap.String("order_id", result.OrderID))
			return nil, "", nil
		}
		if !e.cfg.Trading.BuyFallbackToMarket {
			e.logger.Warn("Buy order unfilled and market fallback disabled, giving up",
				zap.String("order_id", result.OrderID))
			return nil, "", nil
		}

		e.logger.Warn("Buy order unfilled, falling back to a market order",
			zap.String("order_id", result.OrderID))
		marketResult, err := e.gateway.PlaceBuy(ctx, sig.StockCode, quantity, kiwoom.OrderTypeMarket, 0)
		if err != nil {
			return nil, "", fmt.Errorf("market fallback buy failed: %w", err)
		}
		mtxOrders.WithLabelValues("buy", string(kiwoom.OrderTypeMarket)).Inc()
		pos.Verified = false
		pos.EntryPrice = price
		pos.Quantity = marketResult.Quantity
		return pos, marketResult.OrderID, nil
	}
}

// monitor consumes price ticks for the open position until it closes or
// the context dies. The feed registration and the REST backup poller live
// for exactly this session.
func (e *Engine) monitor(ctx context.Context) {
	pos := e.Position()
	if pos == nil {
		return
	}
	code := pos.StockCode
	l := e.logger.With(zap.String("stock_code", code))
	l.Info("Monitoring position",
		zap.Int64("entry_price", pos.EntryPrice),
		zap.Int64("quantity", pos.Quantity),
		zap.Bool("verified", pos.Verified),
	)

	if err := e.feed.Register(code); err != nil {
		l.Warn("Realtime registration failed, backup polling carries the session", zap.Error(err))
	}
	defer func() {
		if err := e.feed.Unregister(code); err != nil {
			l.Warn("Realtime unregistration failed", zap.Error(err))
		}
	}()

	pollCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.backupPoll(pollCtx, code)
	}()
	defer wg.Wait()
	defer cancel()

	e.tracker.Begin(time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-e.ticks:
			if tick.StockCode != code {
				continue
			}
			if e.handleTick(ctx, tick) {
				l.Info("Monitoring session ended")
				return
			}
		}
	}
}

// backupPoll fetches the price over REST on a fixed cadence so monitoring
// survives a dead realtime feed. The first poll waits one full interval.
func (e *Engine) backupPoll(ctx context.Context, stockCode string) {
	interval := time.Duration(e.cfg.Trading.BackupPollInterval) * time.Second
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			price, err := e.gateway.CurrentPrice(ctx, stockCode)
			if err != nil {
				if ctx.Err() == nil {
					e.logger.Warn("Backup price poll failed", zap.Error(err))
				}
				continue
			}
			e.ingestTick(models.PriceTick{
				StockCode:  stockCode,
				Price:      price,
				Source:     models.TickSourcePoll,
				ReceivedAt: time.Now(),
			})
		}
	}
}

// ingestTick is installed as the feed handler and is also fed by the
// backup poller. It never blocks a producer: a full buffer drops the tick,
// a newer one is already on the way.
func (e *Engine) ingestTick(tick models.PriceTick) {
	mtxTicks.WithLabelValues(string(tick.Source)).Inc()
	select {
	case e.ticks <- tick:
	default:
		mtxDroppedTicks.Inc()
	}
}

// handleTick runs one refresh, evaluate, act round. It reports true when
// the position is gone and the monitoring session should end.
func (e *Engine) handleTick(ctx context.Context, tick models.PriceTick) bool {
	pos := e.Position()
	if pos == nil {
		return true
	}

	switch e.tracker.Refresh(ctx, pos, tick.ReceivedAt) {
	case RefreshClosedExternally:
		e.finalizeExternalClose(ctx, pos, tick.Price)
		return true
	case RefreshVerified, RefreshUpdated:
		e.setPosition(pos)
	}

	flags := e.Flags()
	decision := e.exits.Evaluate(pos, &flags, tick.Price, tick.ReceivedAt)
	if decision == nil {
		return false
	}
	return e.executeSell(ctx, pos, decision, tick.Price)
}

// executeSell places the exit order decided for this tick. The sell flag
// goes up before the order call and comes back down only when the broker
// definitely rejected it; an unknown outcome keeps it up so the position
// can never be sold twice.
func (e *Engine) executeSell(ctx context.Context, pos *models.Position, decision *Decision, price int64) bool {
	l := e.logger.With(
		zap.String("stock_code", pos.StockCode),
		zap.String("reason", string(decision.Reason)),
		zap.Float64("profit_rate", decision.ProfitRate),
		zap.Int64("price", price),
	)
	l.Info("Exit condition met, selling")

	flags := e.Flags()
	flags.SellOrderPlaced = true
	e.setFlags(flags)

	if decision.Reason == ExitReasonForceSell {
		// Nothing may stand in the way of the liquidation.
		e.cancelAllOutstanding(ctx)
	} else if pos.PendingBuyOrderID != "" {
		if err := e.gateway.CancelOrder(ctx, pos.PendingBuyOrderID, pos.StockCode, 0); err != nil {
			l.Warn("Could not cancel lingering buy remainder", zap.Error(err))
		} else {
			pos.PendingBuyOrderID = ""
			e.setPosition(pos)
		}
	}

	result, err := e.gateway.PlaceSell(ctx, pos.StockCode, pos.Quantity, decision.OrderType, decision.Price)
	if err != nil {
		mtxOrderFailures.WithLabelValues("sell").Inc()
		var apiErr *kiwoom.APIError
		if errors.As(err, &apiErr) {
			l.Error("Sell order rejected, will retry on a later tick", zap.Error(err))
			flags.SellOrderPlaced = false
			e.setFlags(flags)
			return false
		}
		l.Error("Sell order outcome unknown, keeping the sell flag", zap.Error(err))
		return false
	}
	mtxOrders.WithLabelValues("sell", string(decision.OrderType)).Inc()
	l.Info("Sell order placed", zap.String("order_id", result.OrderID))

	switch e.resolver.Resolve(ctx, result.OrderID, pos.StockCode, 0) {
	case ResolveFilled:
		sellPrice := decision.Price
		if sellPrice <= 0 {
			sellPrice = price
		}
		e.finalizeClose(ctx, pos, decision, sellPrice, result.OrderID)
		return true
	case ResolveCancelled:
		l.Warn("Sell order cancelled after timeout, monitoring continues")
		flags.SellOrderPlaced = false
		e.setFlags(flags)
		return false
	default:
		l.Warn("Sell order left outstanding, holding the sell flag")
		return false
	}
}

// cancelAllOutstanding withdraws every working order so a forced
// liquidation cannot be blocked by stale orders. Best effort.
func (e *Engine) cancelAllOutstanding(ctx context.Context) {
	orders, err := e.gateway.OutstandingOrders(ctx)
	if err != nil {
		e.logger.Warn("Could not list outstanding orders before liquidation", zap.Error(err))
		return
	}
	for _, o := range orders {
		if err := e.gateway.CancelOrder(ctx, o.OrderID, o.StockCode, 0); err != nil {
			e.logger.Warn("Could not cancel outstanding order",
				zap.String("order_id", o.OrderID),
				zap.Error(err),
			)
		}
	}
}

// finalizeClose records the completed exit and clears the position.
func (e *Engine) finalizeClose(ctx context.Context, pos *models.Position, decision *Decision, sellPrice int64, orderID string) {
	profitRate := pos.ProfitRate(sellPrice)
	event := models.EventSell
	switch decision.Reason {
	case ExitReasonStopLoss:
		event = models.EventStopLoss
	case ExitReasonForceSell:
		event = models.EventForceSell
	}
	mtxExitReasons.WithLabelValues(string(decision.Reason)).Inc()

	e.recordEvent(event, pos, sellPrice, profitRate, orderID)
	e.notify(ctx, fmt.Sprintf("매도 완료 [%s]: %s(%s) %d주 @ %s원 (%.2f%%)",
		event, pos.StockName, pos.StockCode, pos.Quantity, formatWon(sellPrice), profitRate*100))
	e.logger.Info("Position closed",
		zap.String("stock_code", pos.StockCode),
		zap.String("event", event),
		zap.Int64("sell_price", sellPrice),
		zap.Float64("profit_rate", profitRate),
	)

	e.setPosition(nil)
	e.setFlags(models.ExitFlags{})
}

// finalizeExternalClose records that the stock left the account without a
// sell from this process and clears the position.
func (e *Engine) finalizeExternalClose(ctx context.Context, pos *models.Position, price int64) {
	e.logger.Warn("Position closed outside the bot",
		zap.String("stock_code", pos.StockCode),
		zap.String("stock_name", pos.StockName),
	)
	mtxExitReasons.WithLabelValues(models.EventExternalClose).Inc()

	e.recordEvent(models.EventExternalClose, pos, price, pos.ProfitRate(price), "")
	e.notify(ctx, fmt.Sprintf("외부 청산 감지: %s(%s)", pos.StockName, pos.StockCode))

	e.setPosition(nil)
	e.setFlags(models.ExitFlags{})
}

// recordEvent writes the audit journal file and the history row. Both are
// best effort and never interrupt trading.
func (e *Engine) recordEvent(eventType string, pos *models.Position, price int64, profitRate float64, orderID string) {
	eventID := uuid.NewString()

	if e.journal != nil {
		err := e.journal.Record(journal.Entry{
			EventID:    eventID,
			EventType:  eventType,
			OccurredAt: time.Now(),
			StockCode:  pos.StockCode,
			StockName:  pos.StockName,
			Price:      price,
			Quantity:   pos.Quantity,
			ProfitRate: profitRate,
			OrderID:    orderID,
		})
		if err != nil {
			e.logger.Error("Failed to write journal entry", zap.Error(err))
		}
	}

	if e.db != nil {
		record := models.TradeRecord{
			EventID:    eventID,
			EventType:  eventType,
			StockCode:  pos.StockCode,
			StockName:  pos.StockName,
			Price:      price,
			Quantity:   pos.Quantity,
			ProfitRate: profitRate,
			OrderID:    orderID,
		}
		if err := e.db.Create(&record).Error; err != nil {
			e.logger.Error("Failed to save trade record", zap.Error(err))
		}
	}
}

func (e *Engine) notify(ctx context.Context, text string) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, text)
}

// reportLingeringOrders warns loudly when the process exits with orders
// still working at the broker.
func (e *Engine) reportLingeringOrders() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	orders, err := e.gateway.OutstandingOrders(ctx)
	if err != nil {
		e.logger.Warn("Could not check outstanding orders on shutdown", zap.Error(err))
		return
	}
	for _, o := range orders {
		e.logger.Warn("Exiting with an outstanding order still working",
			zap.String("order_id", o.OrderID),
			zap.String("stock_code", o.StockCode),
			zap.Int64("remaining", o.RemainingQuantity),
		)
	}
}

// Position returns a snapshot copy of the open position, nil when flat.
func (e *Engine) Position() *models.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.position == nil {
		return nil
	}
	p := *e.position
	return &p
}

func (e *Engine) setPosition(pos *models.Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.position = pos
}

// Flags returns the current exit flags.
func (e *Engine) Flags() models.ExitFlags {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flags
}

func (e *Engine) setFlags(flags models.ExitFlags) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flags = flags
}

// Status is the engine state served by the API.
type Status struct {
	UUID      string           `json:"uuid"`
	StartTime string           `json:"start_time"`
	Uptime    string           `json:"uptime"`
	Position  *models.Position `json:"position,omitempty"`
	Flags     models.ExitFlags `json:"flags"`
}

// Status snapshots the engine for the API.
func (e *Engine) Status() Status {
	return Status{
		UUID:      e.UUID,
		StartTime: e.StartTime.Format(time.RFC3339),
		Uptime:    time.Since(e.StartTime).String(),
		Position:  e.Position(),
		Flags:     e.Flags(),
	}
}

// formatWon renders 1234567 as "1,234,567" for operator messages.
func formatWon(n int64) string {
	s := strconv.FormatInt(n, 10)
	start := 0
	if n < 0 {
		start = 1
	}
	for i := len(s) - 3; i > start; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return s
}
