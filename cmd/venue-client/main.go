package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"go.uber.org/zap"

	"github.com/bossim/venue/internal/client"
	"github.com/bossim/venue/internal/config"
	"github.com/bossim/venue/internal/fixml"
	"github.com/bossim/venue/internal/logging"
)

// venue-client runs one full session against a venue: login, reference
// data, snapshot, subscription, and a limit order left to fill on the
// simulated feed.
func main() {
	cfg := config.LoadConfig("venue-client")

	logger, err := logging.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	username := getEnv("VENUE_USERNAME", "BOS")
	password := getEnv("VENUE_PASSWORD", "BOS")
	symbol := getEnv("VENUE_SYMBOL", cfg.DefaultSymbol)

	logger.Info("starting venue-client",
		zap.String("venue_addr", cfg.VenueAddr),
		zap.String("username", username),
		zap.String("symbol", symbol),
	)

	c := client.New(cfg.VenueAddr, cfg.RequestTimeout, logger)
	if err := c.Connect(); err != nil {
		logger.Fatal("failed to connect", zap.Error(err))
	}
	defer c.Close()

	c.OnExecutionReport(func(rpt *fixml.ExecutionReport) {
		logger.Info("execution report",
			zap.String("order_id", rpt.OrderID),
			zap.String("cl_ord_id", rpt.ClOrdID),
			zap.String("exec_type", rpt.ExecType),
			zap.String("ord_status", rpt.OrdStatus),
			zap.String("last_px", rpt.LastPrice),
			zap.String("last_qty", rpt.LastQuantity),
		)
	})
	c.OnMarketData(func(md *fixml.MarketDataResponse) {
		logger.Info("market data",
			zap.String("symbol", md.Symbol),
			zap.String("last_px", md.LastPrice),
		)
	})

	if _, err := c.Login(username, password); err != nil {
		logger.Fatal("login failed", zap.Error(err))
	}

	secList, err := c.SecurityList("")
	if err != nil {
		logger.Fatal("security list request failed", zap.Error(err))
	}
	for _, sec := range secList.Securities {
		logger.Info("security",
			zap.String("symbol", sec.Symbol),
			zap.String("description", sec.Description),
			zap.String("market", sec.Market),
		)
	}

	snap, err := c.Snapshot(symbol)
	if err != nil {
		logger.Fatal("snapshot request failed", zap.Error(err))
	}
	logger.Info("snapshot",
		zap.String("symbol", snap.Symbol),
		zap.String("last_px", snap.LastPrice),
	)

	subID, _, err := c.Subscribe(symbol)
	if err != nil {
		logger.Fatal("subscribe failed", zap.Error(err))
	}

	// A buy limit a few percent under the market fills once the
	// simulation drifts down through it
	lastPx, err := strconv.ParseFloat(snap.LastPrice, 64)
	if err != nil {
		logger.Fatal("unparsable snapshot price", zap.String("last_px", snap.LastPrice), zap.Error(err))
	}
	limitPx := fmt.Sprintf("%.2f", lastPx*0.98)

	ack, err := c.SendOrder(&fixml.OrderRequest{
		Symbol:   symbol,
		Side:     fixml.SideBuy,
		OrdType:  fixml.OrdTypeLimit,
		Price:    limitPx,
		Quantity: getEnv("VENUE_ORDER_QTY", "10"),
	})
	if err != nil {
		logger.Fatal("order failed", zap.Error(err))
	}
	logger.Info("order accepted",
		zap.String("order_id", ack.OrderID),
		zap.String("limit_px", limitPx),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	if err := c.Unsubscribe(subID); err != nil {
		logger.Warn("unsubscribe failed", zap.Error(err))
	}
	if _, err := c.Logout(); err != nil {
		logger.Warn("logout failed", zap.Error(err))
	}
	logger.Info("venue-client stopped")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
