// Package marketdata holds last-known instrument prices, runs the
// periodic price-simulation generator, and distributes quote updates
// to subscribed sessions.
package marketdata

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/bossim/venue/internal/fixml"
)

// PriceListener is notified after every simulated price tick. The
// order manager registers here to evaluate fills.
type PriceListener interface {
	OnPriceUpdate(symbol string, price float64)
}

// Publisher is a destination for pushed market data, typically a
// session's send path.
type Publisher interface {
	ID() string
	Publish(m *fixml.Message)
}

// subscription associates a market-data request id with the
// instruments it covers and the publishers interested in it
type subscription struct {
	requestID  string
	symbols    map[string]bool
	publishers map[string]Publisher
}

func (s *subscription) covers(symbol string) bool {
	return len(s.symbols) == 0 || s.symbols[symbol]
}

// Manager owns the price table and the subscription table
type Manager struct {
	logger        *zap.Logger
	interval      time.Duration
	jitterPct     float64
	defaultSymbol string

	pricesMu sync.RWMutex
	prices   map[string]float64

	subsMu        sync.Mutex
	subscriptions map[string]*subscription

	listenersMu sync.Mutex
	listeners   []PriceListener

	simMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	rng    *rand.Rand
}

// NewManager creates a market data manager seeded with the instrument
// universe.
func NewManager(logger *zap.Logger, seed map[string]float64, defaultSymbol string, interval time.Duration, jitterPct float64) *Manager {
	prices := make(map[string]float64, len(seed))
	for sym, px := range seed {
		prices[sym] = px
	}
	return &Manager{
		logger:        logger,
		interval:      interval,
		jitterPct:     jitterPct,
		defaultSymbol: defaultSymbol,
		prices:        prices,
		subscriptions: make(map[string]*subscription),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// AddPriceListener registers a price listener
func (m *Manager) AddPriceListener(l PriceListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// StartSimulation begins the periodic price generator. Calling it
// while the simulation is already running is a no-op.
func (m *Manager) StartSimulation() {
	m.simMu.Lock()
	defer m.simMu.Unlock()
	if m.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	go m.run(ctx, m.done)
	m.logger.Info("price simulation started",
		zap.Duration("interval", m.interval),
		zap.Float64("jitter_pct", m.jitterPct),
	)
}

// StopSimulation cancels the periodic tick; idempotent
func (m *Manager) StopSimulation() {
	m.simMu.Lock()
	defer m.simMu.Unlock()
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil
	m.logger.Info("price simulation stopped")
}

func (m *Manager) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tickOnce()
		}
	}
}

// tickOnce perturbs every instrument price by a bounded random
// percentage, rounds to 2 decimals, and distributes the update.
func (m *Manager) tickOnce() {
	m.pricesMu.RLock()
	symbols := make([]string, 0, len(m.prices))
	for sym := range m.prices {
		symbols = append(symbols, sym)
	}
	m.pricesMu.RUnlock()

	for _, sym := range symbols {
		m.pricesMu.Lock()
		current := m.prices[sym]
		factor := 1 + (m.rng.Float64()*2-1)*m.jitterPct/100
		next, _ := decimal.NewFromFloat(current * factor).Round(2).Float64()
		m.prices[sym] = next
		m.pricesMu.Unlock()

		m.publishTick(sym, next)
	}
}

// publishTick forwards one price update to the order manager and to
// every subscription covering the instrument
func (m *Manager) publishTick(symbol string, price float64) {
	m.listenersMu.Lock()
	listeners := make([]PriceListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.listenersMu.Unlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("price listener panicked",
						zap.String("symbol", symbol),
						zap.Any("panic", r),
					)
				}
			}()
			l.OnPriceUpdate(symbol, price)
		}()
	}

	type delivery struct {
		requestID string
		pub       Publisher
	}
	var deliveries []delivery

	m.subsMu.Lock()
	for _, sub := range m.subscriptions {
		if !sub.covers(symbol) {
			continue
		}
		for _, pub := range sub.publishers {
			deliveries = append(deliveries, delivery{requestID: sub.requestID, pub: pub})
		}
	}
	m.subsMu.Unlock()

	for _, d := range deliveries {
		msg := fixml.Wrap(&fixml.MarketDataResponse{
			RequestID: d.requestID,
			Symbol:    symbol,
			LastPrice: formatPrice(price),
			Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05"),
		})
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("market data publisher panicked",
						zap.String("publisher", d.pub.ID()),
						zap.Any("panic", r),
					)
				}
			}()
			d.pub.Publish(msg)
		}()
	}
}

// PublishPrice overrides an instrument's price and distributes the
// update as if the simulator had ticked. Known symbols only.
func (m *Manager) PublishPrice(symbol string, price float64) error {
	m.pricesMu.Lock()
	if _, ok := m.prices[symbol]; !ok {
		m.pricesMu.Unlock()
		return fmt.Errorf("unknown instrument %q", symbol)
	}
	rounded, _ := decimal.NewFromFloat(price).Round(2).Float64()
	m.prices[symbol] = rounded
	m.pricesMu.Unlock()

	m.publishTick(symbol, rounded)
	return nil
}

// Snapshot returns the current price of the first instrument named in
// the request, defaulting to the configured instrument if none is
// named. No subscription is required.
func (m *Manager) Snapshot(req *fixml.MarketDataRequest) (*fixml.MarketDataResponse, error) {
	symbol := m.defaultSymbol
	if len(req.Instruments) > 0 && req.Instruments[0].Symbol != "" {
		symbol = req.Instruments[0].Symbol
	}

	m.pricesMu.RLock()
	price, ok := m.prices[symbol]
	m.pricesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("marketdata: unknown instrument %q", symbol)
	}

	return &fixml.MarketDataResponse{
		RequestID: req.RequestID,
		Symbol:    symbol,
		LastPrice: formatPrice(price),
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05"),
	}, nil
}

// CurrentPrice returns the last-known price for an instrument
func (m *Manager) CurrentPrice(symbol string) (float64, bool) {
	m.pricesMu.RLock()
	defer m.pricesMu.RUnlock()
	price, ok := m.prices[symbol]
	return price, ok
}

// Subscribe registers a publisher's interest in the request's
// instruments under the request id
func (m *Manager) Subscribe(req *fixml.MarketDataRequest, pub Publisher) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	sub, ok := m.subscriptions[req.RequestID]
	if !ok {
		sub = &subscription{
			requestID:  req.RequestID,
			symbols:    make(map[string]bool),
			publishers: make(map[string]Publisher),
		}
		m.subscriptions[req.RequestID] = sub
	}
	for _, inst := range req.Instruments {
		if inst.Symbol != "" {
			sub.symbols[inst.Symbol] = true
		}
	}
	sub.publishers[pub.ID()] = pub

	m.logger.Info("market data subscription added",
		zap.String("request_id", req.RequestID),
		zap.String("publisher", pub.ID()),
		zap.Int("instruments", len(sub.symbols)),
	)
}

// Unsubscribe removes the whole subscription for a request id
func (m *Manager) Unsubscribe(requestID string) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	delete(m.subscriptions, requestID)
}

// UnsubscribeAll removes the publisher from every subscription it
// participates in and prunes subscriptions left without subscribers.
// Must be called on session close.
func (m *Manager) UnsubscribeAll(pub Publisher) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	for reqID, sub := range m.subscriptions {
		delete(sub.publishers, pub.ID())
		if len(sub.publishers) == 0 {
			delete(m.subscriptions, reqID)
		}
	}
}

// SubscriptionCount returns the number of live subscriptions
func (m *Manager) SubscriptionCount() int {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	return len(m.subscriptions)
}

func formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', 2, 64)
}
