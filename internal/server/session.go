package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bossim/venue/internal/fixml"
	"github.com/bossim/venue/internal/wire"
)

// Session owns one accepted connection. It runs a receive loop, a
// dispatch loop, and a send loop, holds the authentication state, and
// routes decoded messages to the managers.
type Session struct {
	id     string
	conn   net.Conn
	framer *wire.Framer
	logger *zap.Logger
	server *Server

	authMu        sync.RWMutex
	authenticated bool
	username      string

	outbound chan *fixml.Message
	inbound  chan *fixml.Message
	done     chan struct{}
	closed   atomic.Bool
	wg       sync.WaitGroup
}

func newSession(conn net.Conn, srv *Server) *Session {
	id := uuid.New().String()
	return &Session{
		id:       id,
		conn:     conn,
		framer:   wire.NewFramer(conn),
		logger:   srv.logger.With(zap.String("session_id", id), zap.String("remote", conn.RemoteAddr().String())),
		server:   srv,
		outbound: make(chan *fixml.Message, 256),
		inbound:  make(chan *fixml.Message, 128),
		done:     make(chan struct{}),
	}
}

// ID returns the opaque session id generated at accept time
func (s *Session) ID() string {
	return s.id
}

// Authenticated reports whether the session has logged in
func (s *Session) Authenticated() bool {
	s.authMu.RLock()
	defer s.authMu.RUnlock()
	return s.authenticated
}

// Username returns the authenticated username, or ""
func (s *Session) Username() string {
	s.authMu.RLock()
	defer s.authMu.RUnlock()
	return s.username
}

func (s *Session) start() {
	s.wg.Add(3)
	go s.receiveLoop()
	go s.dispatchLoop()
	go s.sendLoop()
	s.logger.Info("session connected")
}

// Publish queues a message for the send loop. Messages queued after
// close, or while the queue is full, are dropped with a log line.
func (s *Session) Publish(m *fixml.Message) {
	if s.closed.Load() {
		return
	}
	select {
	case s.outbound <- m:
	default:
		s.logger.Warn("outbound queue full, dropping message",
			zap.String("msg_type", m.Type()),
			zap.String("msg_id", m.CorrelationID()),
		)
	}
}

// OnExecutionReport pushes fill reports for this session's user.
// Acknowledgements are answered synchronously on the dispatch path,
// so only transactions flow through the listener.
func (s *Session) OnExecutionReport(username string, rpt *fixml.ExecutionReport) {
	if rpt.ExecType != fixml.ExecTypeTransaction {
		return
	}
	s.authMu.RLock()
	match := s.authenticated && s.username == username
	s.authMu.RUnlock()
	if !match {
		return
	}
	s.Publish(fixml.Wrap(rpt))
}

// receiveLoop reads frames until the connection drops. Oversized
// frames and decode failures keep the session open; anything else is
// treated as connection loss.
func (s *Session) receiveLoop() {
	defer s.wg.Done()
	defer close(s.inbound)
	defer s.Close()

	for {
		payload, err := s.framer.ReadFrame()
		if err != nil {
			if errors.Is(err, wire.ErrFrameTooLarge) {
				s.logger.Warn("skipping oversized frame", zap.Error(err))
				continue
			}
			if !s.closed.Load() {
				s.logger.Info("connection lost", zap.Error(err))
			}
			return
		}

		msg, err := fixml.Decode(payload)
		if err != nil {
			s.logger.Warn("failed to decode inbound payload", zap.Error(err))
			s.reject("", "", fixml.RejectReasonOther, "malformed message")
			continue
		}

		select {
		case s.inbound <- msg:
		case <-s.done:
			return
		}
	}
}

// dispatchLoop drains the inbound queue so a slow handler never stalls
// the socket read
func (s *Session) dispatchLoop() {
	defer s.wg.Done()
	for msg := range s.inbound {
		s.handle(msg)
	}
}

// sendLoop is the single writer on the transport: concurrent
// producers never interleave partial writes
func (s *Session) sendLoop() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.outbound:
			payload, err := fixml.Encode(msg)
			if err != nil {
				s.logger.Error("failed to encode outbound message",
					zap.String("msg_type", msg.Type()),
					zap.Error(err),
				)
				continue
			}
			if err := s.framer.WriteFrame(payload); err != nil {
				if !s.closed.Load() {
					s.logger.Info("write failed, closing session", zap.Error(err))
				}
				s.Close()
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *Session) handle(msg *fixml.Message) {
	msgType := msg.Type()

	if c := s.server.chaos; c != nil {
		if c.MaybeDrop(s.id, msgType) {
			return
		}
		if err := c.MaybeDelay(context.Background(), s.id, msgType); err != nil {
			return
		}
	}

	if msgType == fixml.TypeUserRequest {
		s.handleUserRequest(msg.UserRequest)
		return
	}

	if !s.Authenticated() {
		s.logger.Warn("rejecting unauthenticated request", zap.String("msg_type", msgType))
		s.reject(msgType, msg.CorrelationID(), fixml.RejectReasonNotAuthorized, "unauthorized access")
		return
	}

	switch msgType {
	case fixml.TypeOrderRequest:
		s.handleOrderRequest(msg.OrderRequest)
	case fixml.TypeMarketDataRequest:
		s.handleMarketDataRequest(msg.MarketDataRequest)
	case fixml.TypeSecurityListRequest:
		s.Publish(fixml.Wrap(s.server.securities.List(msg.SecurityListRequest)))
	default:
		s.logger.Warn("unsupported message type", zap.String("msg_type", msgType))
		s.reject(msgType, msg.CorrelationID(), fixml.RejectReasonUnsupportedType, "unsupported message type")
	}
}

func (s *Session) handleUserRequest(req *fixml.UserRequest) {
	switch req.RequestType {
	case fixml.UserRequestLogin:
		password, known := s.server.users[req.Username]
		if !known || password != req.Password {
			s.logger.Warn("login rejected", zap.String("username", req.Username))
			s.Publish(fixml.Wrap(&fixml.UserResponse{
				UserReqID:  req.UserReqID,
				Username:   req.Username,
				UserStatus: fixml.UserStatusNotRecognised,
				StatusText: "invalid credentials",
			}))
			return
		}

		s.authMu.Lock()
		if s.authenticated {
			s.authMu.Unlock()
			s.Publish(fixml.Wrap(&fixml.UserResponse{
				UserReqID:  req.UserReqID,
				Username:   req.Username,
				UserStatus: fixml.UserStatusOther,
				StatusText: "already logged in",
			}))
			return
		}
		s.authenticated = true
		s.username = req.Username
		s.authMu.Unlock()

		s.server.metrics.ActiveSessions.Inc()
		s.logger.Info("session authenticated", zap.String("username", req.Username))
		s.Publish(fixml.Wrap(&fixml.UserResponse{
			UserReqID:  req.UserReqID,
			Username:   req.Username,
			UserStatus: fixml.UserStatusLoggedIn,
		}))

	case fixml.UserRequestLogout:
		s.authMu.Lock()
		wasAuthenticated := s.authenticated
		username := s.username
		s.authenticated = false
		s.username = ""
		s.authMu.Unlock()

		if !wasAuthenticated {
			s.Publish(fixml.Wrap(&fixml.UserResponse{
				UserReqID:  req.UserReqID,
				Username:   req.Username,
				UserStatus: fixml.UserStatusOther,
				StatusText: "not logged in",
			}))
			return
		}

		s.server.metrics.ActiveSessions.Dec()
		s.logger.Info("session logged out", zap.String("username", username))
		s.Publish(fixml.Wrap(&fixml.UserResponse{
			UserReqID:  req.UserReqID,
			Username:   username,
			UserStatus: fixml.UserStatusNotLoggedIn,
			StatusText: "logged out",
		}))

	default:
		s.reject(fixml.TypeUserRequest, req.UserReqID, fixml.RejectReasonUnsupportedType, "unsupported user request type")
	}
}

func (s *Session) handleOrderRequest(req *fixml.OrderRequest) {
	rpt, err := s.server.orders.Process(req, s.Username())
	if err != nil {
		s.logger.Warn("order rejected", zap.String("cl_ord_id", req.ClOrdID), zap.Error(err))
		s.reject(fixml.TypeOrderRequest, req.ClOrdID, fixml.RejectReasonOther, err.Error())
		return
	}
	s.server.metrics.OrdersTotal.Inc()
	s.Publish(fixml.Wrap(rpt))
}

func (s *Session) handleMarketDataRequest(req *fixml.MarketDataRequest) {
	switch req.SubReqType {
	case fixml.SubReqSnapshot:
		resp, err := s.server.marketData.Snapshot(req)
		if err != nil {
			s.reject(fixml.TypeMarketDataRequest, req.RequestID, fixml.RejectReasonOther, err.Error())
			return
		}
		s.Publish(fixml.Wrap(resp))

	case fixml.SubReqSubscribe:
		// The current snapshot doubles as the subscription ack
		resp, err := s.server.marketData.Snapshot(req)
		if err != nil {
			s.reject(fixml.TypeMarketDataRequest, req.RequestID, fixml.RejectReasonOther, err.Error())
			return
		}
		s.server.marketData.Subscribe(req, s)
		s.Publish(fixml.Wrap(resp))

	case fixml.SubReqUnsubscribe:
		s.server.marketData.Unsubscribe(req.RequestID)
		s.Publish(fixml.Wrap(&fixml.MarketDataResponse{RequestID: req.RequestID}))

	default:
		s.reject(fixml.TypeMarketDataRequest, req.RequestID, fixml.RejectReasonUnsupportedType, "unsupported subscription request type")
	}
}

func (s *Session) reject(refMsgType, refID, reason, text string) {
	s.server.metrics.RejectsTotal.Inc()
	s.Publish(fixml.Wrap(&fixml.BusinessMessageReject{
		RefID:      refID,
		RefMsgType: refMsgType,
		Reason:     reason,
		Text:       text,
	}))
}

// Close tears the session down exactly once: stops the loops,
// deregisters from market data and order distribution, removes the
// session from the registry, and closes the transport.
func (s *Session) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.authMu.Lock()
	wasAuthenticated := s.authenticated
	s.authenticated = false
	s.username = ""
	s.authMu.Unlock()
	if wasAuthenticated {
		s.server.metrics.ActiveSessions.Dec()
	}

	s.server.marketData.UnsubscribeAll(s)
	s.server.orders.RemoveListener(s)
	s.server.registry.Remove(s.id)

	close(s.done)
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("error closing connection", zap.Error(err))
	}
	s.logger.Info("session closed")
}

// wait blocks until the session's loops have terminated
func (s *Session) wait() {
	s.wg.Wait()
}
