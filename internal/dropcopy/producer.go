// Package dropcopy mirrors every execution report onto a Kafka topic
// so downstream systems can consume the venue's activity without a
// FIXML session.
package dropcopy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"

	"github.com/bossim/venue/internal/fixml"
)

type producedRecord struct {
	key   string
	event ExecutionEvent
}

// Producer publishes execution events to Kafka. It attaches to the
// order manager as a listener and publishes from its own goroutine so
// the order path never waits on the broker.
type Producer struct {
	client *kgo.Client
	logger *zap.Logger
	topic  string

	queue  chan producedRecord
	wg     sync.WaitGroup
	closed atomic.Bool

	produceCount int64
	errorCount   int64
}

// NewProducer creates a drop-copy producer and starts its publish loop
func NewProducer(brokers []string, topic string, logger *zap.Logger) (*Producer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	p := &Producer{
		client: client,
		logger: logger,
		topic:  topic,
		queue:  make(chan producedRecord, 1024),
	}

	logger.Info("drop-copy producer initialized",
		zap.Strings("brokers", brokers),
		zap.String("topic", topic),
	)

	p.wg.Add(1)
	go p.publishLoop()
	go p.logStats()

	return p, nil
}

// OnExecutionReport queues an execution event for publishing.
// Satisfies the order manager's listener interface.
func (p *Producer) OnExecutionReport(username string, rpt *fixml.ExecutionReport) {
	if p.closed.Load() {
		return
	}
	rec := producedRecord{
		key: rpt.OrderID,
		event: ExecutionEvent{
			EventID:      uuid.New().String(),
			Username:     username,
			OrderID:      rpt.OrderID,
			ClOrdID:      rpt.ClOrdID,
			ExecID:       rpt.ExecID,
			ExecType:     rpt.ExecType,
			OrdStatus:    rpt.OrdStatus,
			Symbol:       rpt.Symbol,
			Side:         rpt.Side,
			OrdType:      rpt.OrdType,
			Price:        rpt.Price,
			Quantity:     rpt.Quantity,
			LastPrice:    rpt.LastPrice,
			LastQuantity: rpt.LastQuantity,
			TsUnixMillis: time.Now().UnixMilli(),
		},
	}
	select {
	case p.queue <- rec:
	default:
		atomic.AddInt64(&p.errorCount, 1)
		p.logger.Warn("drop-copy queue full, dropping event",
			zap.String("exec_id", rpt.ExecID),
		)
	}
}

func (p *Producer) publishLoop() {
	defer p.wg.Done()
	for rec := range p.queue {
		if err := p.produce(context.Background(), rec); err != nil {
			atomic.AddInt64(&p.errorCount, 1)
			p.logger.Error("failed to produce drop-copy event",
				zap.String("exec_id", rec.event.ExecID),
				zap.Error(err),
			)
			continue
		}
		atomic.AddInt64(&p.produceCount, 1)
	}
}

func (p *Producer) produce(ctx context.Context, rec producedRecord) error {
	data, err := json.Marshal(rec.event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	produceCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	result := p.client.ProduceSync(produceCtx, &kgo.Record{
		Topic: p.topic,
		Key:   []byte(rec.key),
		Value: data,
	})
	if result.FirstErr() != nil {
		return fmt.Errorf("failed to produce event: %w", result.FirstErr())
	}
	return nil
}

// Close drains the queue, stops the publish loop, and closes the
// Kafka client
func (p *Producer) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	close(p.queue)
	p.wg.Wait()
	p.client.Close()
}

func (p *Producer) logStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if p.closed.Load() {
			return
		}
		p.logger.Info("drop-copy stats",
			zap.Int64("produced", atomic.LoadInt64(&p.produceCount)),
			zap.Int64("errors", atomic.LoadInt64(&p.errorCount)),
		)
	}
}
