// Package db archives finished research sessions and synthesis reports to
// Postgres. Writes go through an async queue so a slow or absent database
// never blocks the research pipeline.
package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/meridian-lab/fathom/internal/circuitbreaker"
	"github.com/meridian-lab/fathom/internal/metrics"
)

// Config holds archive database settings. Zero values get defaults.
type Config struct {
	URL             string
	QueueSize       int
	Workers         int
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Breaker         circuitbreaker.Config
}

func withDefaults(c Config) Config {
	if c.QueueSize <= 0 {
		c.QueueSize = 1000
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = 10
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime <= 0 {
		c.ConnMaxLifetime = 30 * time.Minute
	}
	return c
}

// WriteType identifies an archive write kind.
type WriteType int

const (
	WriteTypeSessionArchive WriteType = iota
	WriteTypeSynthesisReport
)

func (wt WriteType) String() string {
	switch wt {
	case WriteTypeSessionArchive:
		return "session_archive"
	case WriteTypeSynthesisReport:
		return "synthesis_report"
	default:
		return "unknown"
	}
}

// WriteRequest is one async archive operation. Callback, if set, runs on the
// worker goroutine after the write completes.
type WriteRequest struct {
	Type     WriteType
	Data     interface{}
	Callback func(error)
}

// Client manages the archive connection pool and its write workers.
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger

	writeQueue chan WriteRequest
	stopCh     chan struct{}
	workerWg   sync.WaitGroup
}

// NewClient opens the pool, verifies connectivity, and starts the write
// workers.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = withDefaults(cfg)

	rawDB, err := sqlx.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	rawDB.SetMaxOpenConns(cfg.MaxOpenConns)
	rawDB.SetMaxIdleConns(cfg.MaxIdleConns)
	rawDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	wrapped := circuitbreaker.NewDatabaseWrapper(rawDB, cfg.Breaker, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wrapped.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	client := newClientWithDB(wrapped, cfg, logger)
	go client.healthCheck()

	logger.Info("Archive database connected",
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("workers", cfg.Workers),
	)
	return client, nil
}

// newClientWithDB wires a client around an existing pool. Split out so tests
// can inject a mock without dialing.
func newClientWithDB(db *circuitbreaker.DatabaseWrapper, cfg Config, logger *zap.Logger) *Client {
	client := &Client{
		db:         db,
		logger:     logger,
		writeQueue: make(chan WriteRequest, cfg.QueueSize),
		stopCh:     make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		client.workerWg.Add(1)
		go client.writeWorker(i)
	}
	return client
}

// QueueWrite enqueues an archive write. When the queue is full the write
// runs synchronously on the caller so nothing is dropped.
func (c *Client) QueueWrite(writeType WriteType, data interface{}, callback func(error)) {
	req := WriteRequest{Type: writeType, Data: data, Callback: callback}
	select {
	case c.writeQueue <- req:
		metrics.ArchiveQueueDepth.Set(float64(len(c.writeQueue)))
	default:
		c.logger.Warn("Archive queue full, writing synchronously",
			zap.String("type", writeType.String()))
		c.processWrite(req)
	}
}

func (c *Client) writeWorker(id int) {
	defer c.workerWg.Done()
	c.logger.Debug("Archive worker started", zap.Int("worker_id", id))

	for {
		select {
		case <-c.stopCh:
			c.drainQueue()
			c.logger.Debug("Archive worker stopped", zap.Int("worker_id", id))
			return
		case req := <-c.writeQueue:
			c.processWrite(req)
			metrics.ArchiveQueueDepth.Set(float64(len(c.writeQueue)))
		}
	}
}

func (c *Client) processWrite(req WriteRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch req.Type {
	case WriteTypeSessionArchive:
		if archive, ok := req.Data.(*SessionArchive); ok {
			err = c.SaveSessionArchive(ctx, archive)
		} else {
			err = fmt.Errorf("unexpected payload %T for session archive", req.Data)
		}
	case WriteTypeSynthesisReport:
		if report, ok := req.Data.(*SynthesisReport); ok {
			err = c.SaveSynthesisReport(ctx, report)
		} else {
			err = fmt.Errorf("unexpected payload %T for synthesis report", req.Data)
		}
	default:
		err = fmt.Errorf("unknown write type %d", req.Type)
	}

	status := "ok"
	if err != nil {
		status = "error"
		c.logger.Error("Archive write failed",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
	}
	metrics.ArchiveWrites.WithLabelValues(req.Type.String(), status).Inc()

	if req.Callback != nil {
		req.Callback(err)
	}
}

// drainQueue flushes pending writes during shutdown, bounded by a timeout.
func (c *Client) drainQueue() {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining archive queue",
				zap.Int("remaining", len(c.writeQueue)))
			return
		default:
			return
		}
	}
}

func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Archive database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// Ping reports backend connectivity for health checks.
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Wrapper returns the breaker-wrapped pool for monitoring.
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}

// Close drains the queue and shuts the pool down.
func (c *Client) Close() error {
	c.logger.Info("Shutting down archive client")
	close(c.stopCh)
	c.workerWg.Wait()
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
