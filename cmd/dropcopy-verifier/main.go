package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bossim/venue/internal/dropcopy"
	"github.com/bossim/venue/internal/logging"
)

// dropcopy-verifier consumes the drop-copy topic for a fixed window
// and checks per-order invariants: exactly one acknowledgement, no
// duplicate exec ids, and no fill without an acknowledgement.
func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <duration_seconds> [brokers]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Example: %s 30 127.0.0.1:9092\n", os.Args[0])
		os.Exit(1)
	}

	var durationSeconds int
	if _, err := fmt.Sscanf(os.Args[1], "%d", &durationSeconds); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid duration: %v\n", err)
		os.Exit(1)
	}

	brokers := "127.0.0.1:9092"
	if len(os.Args) >= 3 {
		brokers = os.Args[2]
	}

	logger, err := logging.NewLogger("dropcopy-verifier", "info")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	brokerList := strings.Split(brokers, ",")
	for i := range brokerList {
		brokerList[i] = strings.TrimSpace(brokerList[i])
	}

	logger.Info("starting dropcopy-verifier",
		zap.Int("duration_seconds", durationSeconds),
		zap.Strings("brokers", brokerList),
	)

	consumer, err := dropcopy.NewConsumer(brokerList, "dropcopy-verifier-v1", dropcopy.DefaultTopic, logger)
	if err != nil {
		logger.Fatal("failed to create consumer", zap.Error(err))
	}
	defer consumer.Close()

	verifier := dropcopy.NewVerifier()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(durationSeconds)*time.Second)
	defer cancel()

	err = consumer.Run(ctx, func(ctx context.Context, event dropcopy.ExecutionEvent) error {
		verifier.Observe(event)
		logger.Info("execution event",
			zap.String("order_id", event.OrderID),
			zap.String("exec_id", event.ExecID),
			zap.String("exec_type", event.ExecType),
			zap.String("username", event.Username),
		)
		return nil
	})
	if err != nil && ctx.Err() == nil {
		logger.Fatal("consumer failed", zap.Error(err))
	}

	violations := verifier.Violations()
	for _, v := range violations {
		logger.Error("invariant violated", zap.String("violation", v))
	}

	events, acked, filled := verifier.Stats()
	logger.Info("verification complete",
		zap.Int64("events", events),
		zap.Int("orders_acked", acked),
		zap.Int("orders_filled", filled),
		zap.Int("violations", len(violations)),
	)

	if len(violations) > 0 {
		os.Exit(1)
	}
}
