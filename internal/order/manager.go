// Package order owns the venue-side order lifecycle: id assignment,
// acknowledgement, and price-triggered simulated fills.
package order

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bossim/venue/internal/fixml"
)

// Status is the lifecycle state of a venue order
type Status string

const (
	StatusNew      Status = "NEW"
	StatusActive   Status = "ACTIVE"
	StatusDone     Status = "DONE"
	StatusCanceled Status = "CANCELED"
	StatusRejected Status = "REJECTED"
)

// Order is the venue-side record of an accepted order. Orders are
// mutated only by the Manager.
type Order struct {
	VenueOrderID string
	ClOrdID      string
	Username     string
	Symbol       string
	Side         string
	OrdType      string
	LimitPrice   float64
	Quantity     int64
	Status       Status
}

// ExecutionListener receives every execution report the manager
// emits, together with the username that owns the order.
type ExecutionListener interface {
	OnExecutionReport(username string, rpt *fixml.ExecutionReport)
}

// Manager assigns venue order ids, stores open orders, and fills
// resting orders from market data price ticks. Fills are always for
// the full quantity: this is a documented simulation mode, not real
// exchange matching.
type Manager struct {
	logger *zap.Logger

	mu        sync.Mutex
	active    map[string]*Order
	completed map[string]*Order

	listenersMu sync.Mutex
	listeners   []ExecutionListener

	orderSeq atomic.Int64
	execSeq  atomic.Int64
}

// NewManager creates an order manager
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		logger:    logger,
		active:    make(map[string]*Order),
		completed: make(map[string]*Order),
	}
}

// Process accepts an order request, assigns a venue order id, stores
// the order, and returns the NEW acknowledgement report. Listeners are
// notified with the same report.
func (m *Manager) Process(req *fixml.OrderRequest, username string) (*fixml.ExecutionReport, error) {
	qty, err := strconv.ParseInt(req.Quantity, 10, 64)
	if err != nil || qty <= 0 {
		return nil, fmt.Errorf("order %s: invalid quantity %q", req.ClOrdID, req.Quantity)
	}

	var limitPrice float64
	switch req.OrdType {
	case fixml.OrdTypeLimit:
		limitPrice, err = strconv.ParseFloat(req.Price, 64)
		if err != nil || limitPrice <= 0 {
			return nil, fmt.Errorf("order %s: invalid limit price %q", req.ClOrdID, req.Price)
		}
	case fixml.OrdTypeMarket:
	default:
		return nil, fmt.Errorf("order %s: unknown order type %q", req.ClOrdID, req.OrdType)
	}
	if req.Side != fixml.SideBuy && req.Side != fixml.SideSell {
		return nil, fmt.Errorf("order %s: unknown side %q", req.ClOrdID, req.Side)
	}

	ord := &Order{
		VenueOrderID: fmt.Sprintf("V-%d", m.orderSeq.Add(1)),
		ClOrdID:      req.ClOrdID,
		Username:     username,
		Symbol:       req.Symbol,
		Side:         req.Side,
		OrdType:      req.OrdType,
		LimitPrice:   limitPrice,
		Quantity:     qty,
		Status:       StatusActive,
	}

	m.mu.Lock()
	m.active[ord.VenueOrderID] = ord
	m.mu.Unlock()

	rpt := &fixml.ExecutionReport{
		OrderID:   ord.VenueOrderID,
		ClOrdID:   ord.ClOrdID,
		ExecID:    fmt.Sprintf("E-%d", m.execSeq.Add(1)),
		ExecType:  fixml.ExecTypeNew,
		OrdStatus: fixml.OrdStatusNew,
		Symbol:    ord.Symbol,
		Side:      ord.Side,
		OrdType:   ord.OrdType,
		Price:     req.Price,
		Quantity:  req.Quantity,
	}

	m.logger.Info("order accepted",
		zap.String("venue_order_id", ord.VenueOrderID),
		zap.String("cl_ord_id", ord.ClOrdID),
		zap.String("username", username),
		zap.String("symbol", ord.Symbol),
		zap.String("side", ord.Side),
		zap.Int64("qty", qty),
	)

	m.notify(username, rpt)
	return rpt, nil
}

// OnPriceUpdate evaluates the fill condition for every active order on
// the instrument. A BUY limit fills when price <= limit, a SELL limit
// when price >= limit, a market order on the first tick.
func (m *Manager) OnPriceUpdate(symbol string, price float64) {
	type fill struct {
		username string
		rpt      *fixml.ExecutionReport
	}
	var fills []fill

	m.mu.Lock()
	for id, ord := range m.active {
		if ord.Symbol != symbol || !fillable(ord, price) {
			continue
		}

		ord.Status = StatusDone
		delete(m.active, id)
		m.completed[id] = ord

		fills = append(fills, fill{username: ord.Username, rpt: &fixml.ExecutionReport{
			OrderID:      ord.VenueOrderID,
			ClOrdID:      ord.ClOrdID,
			ExecID:       fmt.Sprintf("E-%d", m.execSeq.Add(1)),
			ExecType:     fixml.ExecTypeTransaction,
			OrdStatus:    fixml.OrdStatusDone,
			Symbol:       ord.Symbol,
			Side:         ord.Side,
			OrdType:      ord.OrdType,
			Price:        formatPrice(ord),
			Quantity:     strconv.FormatInt(ord.Quantity, 10),
			LastPrice:    strconv.FormatFloat(price, 'f', 2, 64),
			LastQuantity: strconv.FormatInt(ord.Quantity, 10),
		}})
	}
	m.mu.Unlock()

	for _, f := range fills {
		m.logger.Info("order filled",
			zap.String("venue_order_id", f.rpt.OrderID),
			zap.String("cl_ord_id", f.rpt.ClOrdID),
			zap.String("symbol", f.rpt.Symbol),
			zap.String("last_px", f.rpt.LastPrice),
			zap.String("last_qty", f.rpt.LastQuantity),
		)
		m.notify(f.username, f.rpt)
	}
}

// ActiveCount returns the number of resting orders
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CompletedCount returns the number of orders in a terminal status
func (m *Manager) CompletedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.completed)
}

// AddListener registers an execution listener. Safe to call while a
// notification is in progress.
func (m *Manager) AddListener(l ExecutionListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// RemoveListener deregisters an execution listener
func (m *Manager) RemoveListener(l ExecutionListener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	for i, existing := range m.listeners {
		if existing == l {
			m.listeners = append(m.listeners[:i], m.listeners[i+1:]...)
			return
		}
	}
}

// notify delivers a report to a snapshot of the listener list. A
// panicking listener is logged and does not break distribution to the
// others.
func (m *Manager) notify(username string, rpt *fixml.ExecutionReport) {
	m.listenersMu.Lock()
	snapshot := make([]ExecutionListener, len(m.listeners))
	copy(snapshot, m.listeners)
	m.listenersMu.Unlock()

	for _, l := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("execution listener panicked",
						zap.String("venue_order_id", rpt.OrderID),
						zap.Any("panic", r),
					)
				}
			}()
			l.OnExecutionReport(username, rpt)
		}()
	}
}

func fillable(ord *Order, price float64) bool {
	switch ord.OrdType {
	case fixml.OrdTypeMarket:
		return true
	case fixml.OrdTypeLimit:
		if ord.Side == fixml.SideBuy {
			return price <= ord.LimitPrice
		}
		return price >= ord.LimitPrice
	}
	return false
}

func formatPrice(ord *Order) string {
	if ord.OrdType != fixml.OrdTypeLimit {
		return ""
	}
	return strconv.FormatFloat(ord.LimitPrice, 'f', 2, 64)
}
