// Package client implements the venue's client side: a framed TCP
// connection, request/response correlation over futures, and handler
// registration for pushed execution reports and market data.
package client

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bossim/venue/internal/fixml"
	"github.com/bossim/venue/internal/wire"
)

// ErrNotLoggedIn means a gated operation was attempted before a
// successful login on this connection
var ErrNotLoggedIn = errors.New("not logged in")

// ExecutionHandler receives pushed fill reports
type ExecutionHandler func(rpt *fixml.ExecutionReport)

// MarketDataHandler receives pushed price updates
type MarketDataHandler func(md *fixml.MarketDataResponse)

// Client is a venue connection. Synchronous operations send a request
// and block on its future; asynchronous variants hand the future back
// to the caller.
type Client struct {
	addr    string
	timeout time.Duration
	logger  *zap.Logger

	conn   net.Conn
	framer *wire.Framer
	sendMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]*Future

	handlersMu   sync.RWMutex
	execHandlers []ExecutionHandler
	mdHandlers   []MarketDataHandler

	authMu   sync.RWMutex
	loggedIn bool
	username string

	closed atomic.Bool
	wg     sync.WaitGroup
}

// New builds a client for the given venue address. The timeout bounds
// every synchronous operation.
func New(addr string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		addr:    addr,
		timeout: timeout,
		logger:  logger,
		pending: make(map[string]*Future),
	}
}

// Connect dials the venue and starts the receive loop
func (c *Client) Connect() error {
	conn, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return fmt.Errorf("failed to connect to venue at %s: %w", c.addr, err)
	}
	c.conn = conn
	c.framer = wire.NewFramer(conn)

	c.wg.Add(1)
	go c.receiveLoop()
	c.logger.Info("connected to venue", zap.String("addr", c.addr))
	return nil
}

// OnExecutionReport registers a handler for pushed fills
func (c *Client) OnExecutionReport(h ExecutionHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.execHandlers = append(c.execHandlers, h)
}

// OnMarketData registers a handler for pushed price updates
func (c *Client) OnMarketData(h MarketDataHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.mdHandlers = append(c.mdHandlers, h)
}

// LoggedIn reports the local view of the session's auth state
func (c *Client) LoggedIn() bool {
	c.authMu.RLock()
	defer c.authMu.RUnlock()
	return c.loggedIn
}

// Login authenticates the connection. A failure status in the
// response is returned as an error.
func (c *Client) Login(username, password string) (*fixml.UserResponse, error) {
	req := &fixml.UserRequest{
		UserReqID:   uuid.New().String(),
		RequestType: fixml.UserRequestLogin,
		Username:    username,
		Password:    password,
	}
	msg, err := c.request(req, req.UserReqID)
	if err != nil {
		return nil, err
	}
	resp := msg.UserResponse
	if resp == nil {
		return nil, fmt.Errorf("unexpected %s response to login", msg.Type())
	}
	if resp.UserStatus != fixml.UserStatusLoggedIn {
		return resp, fmt.Errorf("login failed: %s", resp.StatusText)
	}

	c.authMu.Lock()
	c.loggedIn = true
	c.username = username
	c.authMu.Unlock()
	c.logger.Info("logged in", zap.String("username", username))
	return resp, nil
}

// Logout ends the authenticated session but keeps the connection open
func (c *Client) Logout() (*fixml.UserResponse, error) {
	c.authMu.RLock()
	username := c.username
	loggedIn := c.loggedIn
	c.authMu.RUnlock()
	if !loggedIn {
		return nil, ErrNotLoggedIn
	}

	req := &fixml.UserRequest{
		UserReqID:   uuid.New().String(),
		RequestType: fixml.UserRequestLogout,
		Username:    username,
	}
	msg, err := c.request(req, req.UserReqID)
	if err != nil {
		return nil, err
	}
	resp := msg.UserResponse
	if resp == nil {
		return nil, fmt.Errorf("unexpected %s response to logout", msg.Type())
	}

	c.authMu.Lock()
	c.loggedIn = false
	c.username = ""
	c.authMu.Unlock()
	c.logger.Info("logged out", zap.String("username", username))
	return resp, nil
}

// SendOrder submits an order and waits for the acknowledgement.
// A missing ClOrdID is filled in.
func (c *Client) SendOrder(req *fixml.OrderRequest) (*fixml.ExecutionReport, error) {
	f, err := c.SendOrderAsync(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.await(f, req.ClOrdID)
	if err != nil {
		return nil, err
	}
	if msg.BusinessReject != nil {
		return nil, rejectError(msg.BusinessReject)
	}
	if msg.ExecutionReport == nil {
		return nil, fmt.Errorf("unexpected %s response to order", msg.Type())
	}
	return msg.ExecutionReport, nil
}

// SendOrderAsync submits an order and returns the pending future
func (c *Client) SendOrderAsync(req *fixml.OrderRequest) (*Future, error) {
	if !c.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	if req.ClOrdID == "" {
		req.ClOrdID = uuid.New().String()
	}
	return c.send(req, req.ClOrdID)
}

// Snapshot requests the current price. With no symbol the venue
// answers for its default instrument.
func (c *Client) Snapshot(symbol string) (*fixml.MarketDataResponse, error) {
	req := &fixml.MarketDataRequest{
		RequestID:  uuid.New().String(),
		SubReqType: fixml.SubReqSnapshot,
	}
	if symbol != "" {
		req.Instruments = []fixml.Instrument{{Symbol: symbol}}
	}
	return c.RequestMarketData(req)
}

// Subscribe opens a market data subscription and returns its request
// id, for use with Unsubscribe, along with the initial snapshot.
func (c *Client) Subscribe(symbols ...string) (string, *fixml.MarketDataResponse, error) {
	req := &fixml.MarketDataRequest{
		RequestID:  uuid.New().String(),
		SubReqType: fixml.SubReqSubscribe,
	}
	for _, sym := range symbols {
		req.Instruments = append(req.Instruments, fixml.Instrument{Symbol: sym})
	}
	snap, err := c.RequestMarketData(req)
	if err != nil {
		return "", nil, err
	}
	return req.RequestID, snap, nil
}

// Unsubscribe tears down a subscription opened with Subscribe
func (c *Client) Unsubscribe(requestID string) error {
	req := &fixml.MarketDataRequest{
		RequestID:  requestID,
		SubReqType: fixml.SubReqUnsubscribe,
	}
	_, err := c.RequestMarketData(req)
	return err
}

// RequestMarketData sends any market data request and waits for its
// response. The convenience wrappers above all route through here.
func (c *Client) RequestMarketData(req *fixml.MarketDataRequest) (*fixml.MarketDataResponse, error) {
	f, err := c.RequestMarketDataAsync(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.await(f, req.RequestID)
	if err != nil {
		return nil, err
	}
	if msg.BusinessReject != nil {
		return nil, rejectError(msg.BusinessReject)
	}
	if msg.MarketDataResponse == nil {
		return nil, fmt.Errorf("unexpected %s response to market data request", msg.Type())
	}
	return msg.MarketDataResponse, nil
}

// RequestMarketDataAsync sends a market data request and returns the
// pending future. A missing ReqID is filled in.
func (c *Client) RequestMarketDataAsync(req *fixml.MarketDataRequest) (*Future, error) {
	if !c.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	return c.send(req, req.RequestID)
}

// SecurityList fetches reference data. An empty symbol requests the
// full catalog.
func (c *Client) SecurityList(symbol string) (*fixml.SecurityList, error) {
	req := &fixml.SecurityListRequest{
		RequestID: uuid.New().String(),
		ListType:  fixml.SecListReqAll,
	}
	if symbol != "" {
		req.ListType = fixml.SecListReqSymbol
		req.Symbol = symbol
	}
	return c.RequestSecurityList(req)
}

// RequestSecurityList sends a reference data request and waits for
// its response
func (c *Client) RequestSecurityList(req *fixml.SecurityListRequest) (*fixml.SecurityList, error) {
	if !c.LoggedIn() {
		return nil, ErrNotLoggedIn
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	msg, err := c.request(req, req.RequestID)
	if err != nil {
		return nil, err
	}
	if msg.BusinessReject != nil {
		return nil, rejectError(msg.BusinessReject)
	}
	if msg.SecurityList == nil {
		return nil, fmt.Errorf("unexpected %s response to security list request", msg.Type())
	}
	return msg.SecurityList, nil
}

// request is the synchronous send-then-await path
func (c *Client) request(body any, correlationID string) (*fixml.Message, error) {
	f, err := c.send(body, correlationID)
	if err != nil {
		return nil, err
	}
	return c.await(f, correlationID)
}

// send registers a future under the correlation id and writes the
// framed request
func (c *Client) send(body any, correlationID string) (*Future, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	f := newFuture()
	c.pendingMu.Lock()
	c.pending[correlationID] = f
	c.pendingMu.Unlock()

	payload, err := fixml.Encode(fixml.Wrap(body))
	if err != nil {
		c.takePending(correlationID)
		return nil, err
	}

	c.sendMu.Lock()
	err = c.framer.WriteFrame(payload)
	c.sendMu.Unlock()
	if err != nil {
		c.takePending(correlationID)
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	return f, nil
}

func (c *Client) await(f *Future, correlationID string) (*fixml.Message, error) {
	msg, err := f.Await(c.timeout)
	if err != nil {
		// Drop the slot so a late answer cannot leak
		c.takePending(correlationID)
		return nil, err
	}
	return msg, nil
}

func (c *Client) takePending(correlationID string) *Future {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	f := c.pending[correlationID]
	delete(c.pending, correlationID)
	return f
}

func (c *Client) receiveLoop() {
	defer c.wg.Done()
	defer c.Close()

	for {
		payload, err := c.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, wire.ErrFrameTooLarge) {
				c.logger.Warn("skipping oversized frame", zap.Error(err))
				continue
			}
			if !c.closed.Load() {
				c.logger.Info("connection lost", zap.Error(err))
			}
			return
		}

		msg, err := fixml.Decode(payload)
		if err != nil {
			c.logger.Warn("failed to decode inbound payload", zap.Error(err))
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch correlates answers to pending futures and routes pushed
// messages to the registered handlers
func (c *Client) dispatch(msg *fixml.Message) {
	switch {
	case msg.ExecutionReport != nil:
		rpt := msg.ExecutionReport
		// The acknowledgement answers the order request; fills are
		// pushed and go to the handlers
		if rpt.ExecType == fixml.ExecTypeNew {
			if f := c.takePending(rpt.ClOrdID); f != nil {
				f.complete(msg)
				return
			}
		}
		c.notifyExecution(rpt)

	case msg.MarketDataResponse != nil:
		if f := c.takePending(msg.MarketDataResponse.RequestID); f != nil {
			f.complete(msg)
			return
		}
		c.notifyMarketData(msg.MarketDataResponse)

	case msg.BusinessReject != nil:
		if f := c.takePending(msg.BusinessReject.RefID); f != nil {
			f.complete(msg)
			return
		}
		c.logger.Warn("uncorrelated reject",
			zap.String("ref_msg_type", msg.BusinessReject.RefMsgType),
			zap.String("reason", msg.BusinessReject.Reason),
			zap.String("text", msg.BusinessReject.Text),
		)

	default:
		if f := c.takePending(msg.CorrelationID()); f != nil {
			f.complete(msg)
			return
		}
		c.logger.Warn("uncorrelated message",
			zap.String("msg_type", msg.Type()),
			zap.String("msg_id", msg.CorrelationID()),
		)
	}
}

func (c *Client) notifyExecution(rpt *fixml.ExecutionReport) {
	c.handlersMu.RLock()
	handlers := make([]ExecutionHandler, len(c.execHandlers))
	copy(handlers, c.execHandlers)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		c.invoke(func() { h(rpt) }, "execution handler")
	}
}

func (c *Client) notifyMarketData(md *fixml.MarketDataResponse) {
	c.handlersMu.RLock()
	handlers := make([]MarketDataHandler, len(c.mdHandlers))
	copy(handlers, c.mdHandlers)
	c.handlersMu.RUnlock()
	for _, h := range handlers {
		c.invoke(func() { h(md) }, "market data handler")
	}
}

// invoke runs a handler and keeps a panicking one from killing the
// receive loop
func (c *Client) invoke(fn func(), kind string) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("handler panicked",
				zap.String("handler", kind),
				zap.Any("panic", r),
			)
		}
	}()
	fn()
}

// Close tears the connection down exactly once and fails every
// pending request
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	c.authMu.Lock()
	c.loggedIn = false
	c.username = ""
	c.authMu.Unlock()

	c.pendingMu.Lock()
	for id, f := range c.pending {
		f.fail(ErrClosed)
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}
	c.logger.Info("client closed")
}

func rejectError(rej *fixml.BusinessMessageReject) error {
	return fmt.Errorf("request rejected: %s", rej.Text)
}
