package server

import (
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/bossim/venue/internal/chaos"
	"github.com/bossim/venue/internal/config"
	"github.com/bossim/venue/internal/fixml"
	"github.com/bossim/venue/internal/marketdata"
	"github.com/bossim/venue/internal/observability"
	"github.com/bossim/venue/internal/order"
	"github.com/bossim/venue/internal/security"
)

// Server is the simulated trading venue: a TCP acceptor wiring each
// connection into the shared order, market data, and security
// managers.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	orders     *order.Manager
	marketData *marketdata.Manager
	securities *security.Manager
	registry   *Registry
	metrics    *observability.Metrics
	chaos      *chaos.Chaos
	users      map[string]string

	listener net.Listener
	wg       sync.WaitGroup
	closed   atomic.Bool
}

// New builds a venue server from configuration. The security catalog
// is derived from the configured instrument universe.
func New(cfg *config.Config, logger *zap.Logger) *Server {
	symbols := make([]string, 0, len(cfg.Instruments))
	for sym := range cfg.Instruments {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	catalog := make([]fixml.SecurityDefinition, 0, len(symbols))
	for _, sym := range symbols {
		catalog = append(catalog, fixml.SecurityDefinition{
			Symbol:      sym,
			Description: sym + " ordinary shares",
			Market:      "SIM",
		})
	}

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		orders:     order.NewManager(logger),
		marketData: marketdata.NewManager(logger, cfg.Instruments, cfg.DefaultSymbol, cfg.TickInterval, cfg.TickJitterPct),
		securities: security.NewManager(catalog),
		registry:   NewRegistry(),
		metrics:    observability.NewMetrics(),
		users:      cfg.Users,
	}

	// Ticks both drive fills and feed the tick counter
	s.marketData.AddPriceListener(s.orders)
	s.marketData.AddPriceListener(s.metrics)
	s.orders.AddListener(s.metrics)
	return s
}

// Orders exposes the order manager so callers can attach execution
// listeners such as the journal or the drop-copy producer
func (s *Server) Orders() *order.Manager {
	return s.orders
}

// MarketData exposes the market data manager
func (s *Server) MarketData() *marketdata.Manager {
	return s.marketData
}

// Registry exposes the session registry
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics exposes the server's Prometheus instruments
func (s *Server) Metrics() *observability.Metrics {
	return s.metrics
}

// SetChaos attaches a fault injector to the dispatch path. Must be
// called before Start.
func (s *Server) SetChaos(c *chaos.Chaos) {
	s.chaos = c
}

// Start binds the venue listener, starts the price simulator, and
// begins accepting connections
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.VenueListenAddr())
	if err != nil {
		return fmt.Errorf("failed to bind venue listener: %w", err)
	}
	s.listener = ln
	s.logger.Info("venue listening",
		zap.String("addr", ln.Addr().String()),
		zap.Int("instruments", len(s.cfg.Instruments)),
	)

	s.marketData.StartSimulation()

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address, for tests using port 0
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", zap.Error(err))
			continue
		}

		sess := newSession(conn, s)
		s.registry.Add(sess)
		s.orders.AddListener(sess)
		sess.start()
	}
}

// Stop shuts the venue down: no new connections, simulator stopped,
// every live session closed and joined
func (s *Server) Stop() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("venue stopping")

	if s.listener != nil {
		s.listener.Close()
	}
	s.marketData.StopSimulation()
	s.registry.CloseAll()
	s.wg.Wait()
	s.logger.Info("venue stopped")
}
