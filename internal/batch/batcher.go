// Package batch coalesces delivery receipts per (campaign, customer) and
// persists them in bulk.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"campaignengine/internal/metrics"
	"campaignengine/internal/models"
)

// Store persists a coalesced batch in one atomic write and returns how many
// rows became delivered as a result.
type Store interface {
	ApplyDeliveryUpdates(ctx context.Context, campaignID int, updates []models.DeliveryUpdate) (int, error)
}

// Config configures the batcher
type Config struct {
	Size          int
	FlushInterval time.Duration
	FlushTimeout  time.Duration
}

// BatchPersistenceError reports a flush whose bulk write failed.
// The entries of that batch are not retried.
type BatchPersistenceError struct {
	CampaignID int
	Entries    int
	Err        error
}

func (e *BatchPersistenceError) Error() string {
	return fmt.Sprintf("failed to persist batch of %d entries for campaign %d: %v", e.Entries, e.CampaignID, e.Err)
}

func (e *BatchPersistenceError) Unwrap() error {
	return e.Err
}

type entry struct {
	status   models.LogStatus
	channels models.ChannelResults
	at       time.Time
}

// Batcher accumulates delivery updates between flushes
type Batcher struct {
	store Store
	cfg   Config
	log   *zap.Logger

	mu      sync.Mutex
	batches map[int]map[int]entry

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a batcher. Call Start to enable periodic flushing.
func New(store Store, cfg Config, log *zap.Logger) *Batcher {
	if cfg.Size <= 0 {
		cfg.Size = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = 10 * time.Second
	}
	return &Batcher{
		store:   store,
		cfg:     cfg,
		log:     log,
		batches: make(map[int]map[int]entry),
	}
}

// Submit adds a receipt to the batch
func (b *Batcher) Submit(ctx context.Context, receipt models.DeliveryReceipt) error {
	return b.AddToBatch(ctx, receipt.CampaignID, receipt.CustomerID, receipt.Status, receipt.Channels, receipt.Timestamp)
}

// AddToBatch records the latest status for a customer.
// A lower ranked status never replaces a higher ranked one, so a stale
// "sent" cannot overwrite "delivered". Reaching the size threshold flushes
// the campaign's batch before returning.
func (b *Batcher) AddToBatch(ctx context.Context, campaignID, customerID int, status models.LogStatus, channels models.ChannelResults, at time.Time) error {
	if status.Rank() < 0 {
		return fmt.Errorf("unknown delivery status %q", status)
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	b.mu.Lock()
	batch, ok := b.batches[campaignID]
	if !ok {
		batch = make(map[int]entry)
		b.batches[campaignID] = batch
	}

	existing, seen := batch[customerID]
	if !seen || status.Rank() >= existing.status.Rank() {
		batch[customerID] = entry{status: status, channels: channels, at: at}
	} else {
		b.log.Debug("Ignoring lower precedence update",
			zap.Int("campaign_id", campaignID),
			zap.Int("customer_id", customerID),
			zap.String("current", string(existing.status)),
			zap.String("incoming", string(status)))
	}
	full := len(batch) >= b.cfg.Size
	b.mu.Unlock()

	metrics.ReceiptsBatchedTotal.Inc()

	if full {
		b.log.Info("Batch size threshold reached", zap.Int("campaign_id", campaignID), zap.Int("batch_size", b.cfg.Size))
		return b.Flush(ctx, campaignID)
	}
	return nil
}

// Pending returns the number of buffered entries for a campaign
func (b *Batcher) Pending(campaignID int) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batches[campaignID])
}

// Flush persists and clears the campaign's batch.
// The batch is detached under the lock, so updates arriving during the
// write start a new batch.
func (b *Batcher) Flush(ctx context.Context, campaignID int) error {
	b.mu.Lock()
	batch := b.batches[campaignID]
	delete(b.batches, campaignID)
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	updates := make([]models.DeliveryUpdate, 0, len(batch))
	for customerID, e := range batch {
		updates = append(updates, models.DeliveryUpdate{
			CustomerID: customerID,
			Status:     e.status,
			Channels:   e.channels,
			At:         e.at,
		})
	}
	sort.Slice(updates, func(i, j int) bool { return updates[i].CustomerID < updates[j].CustomerID })

	start := time.Now()
	delivered, err := b.store.ApplyDeliveryUpdates(ctx, campaignID, updates)
	metrics.BatchFlushDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.BatchFlushesTotal.WithLabelValues("failure").Inc()
		metrics.BatchDroppedEntriesTotal.Add(float64(len(updates)))
		b.log.Error("Failed to persist delivery batch, entries dropped",
			zap.Int("campaign_id", campaignID),
			zap.Int("entry_count", len(updates)),
			zap.Error(err))
		return &BatchPersistenceError{CampaignID: campaignID, Entries: len(updates), Err: err}
	}

	metrics.BatchFlushesTotal.WithLabelValues("success").Inc()
	metrics.DeliveredTotal.Add(float64(delivered))
	b.log.Info("Flushed delivery batch",
		zap.Int("campaign_id", campaignID),
		zap.Int("entry_count", len(updates)),
		zap.Int("delivered", delivered))
	return nil
}

// FlushAll flushes every campaign with buffered entries
func (b *Batcher) FlushAll(ctx context.Context) error {
	b.mu.Lock()
	ids := make([]int, 0, len(b.batches))
	for id := range b.batches {
		ids = append(ids, id)
	}
	b.mu.Unlock()

	sort.Ints(ids)

	var errs []error
	for _, id := range ids {
		if err := b.Flush(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run flushes on every interval until ctx is done, then performs a final flush
func (b *Batcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	b.log.Info("Batcher started",
		zap.Int("batch_size", b.cfg.Size),
		zap.Duration("flush_interval", b.cfg.FlushInterval))

	for {
		select {
		case <-ctx.Done():
			b.log.Info("Batcher shutting down, flushing remaining entries")
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.FlushTimeout)
			err := b.FlushAll(flushCtx)
			cancel()
			return err
		case <-ticker.C:
			// failures are already logged and counted per campaign
			_ = b.FlushAll(ctx)
		}
	}
}

// Start runs the periodic flush loop in the background
func (b *Batcher) Start(ctx context.Context) {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.cancel = cancel
	b.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		if err := b.Run(ctx); err != nil {
			b.log.Error("Final batch flush failed", zap.Error(err))
		}
	}(b.done)
}

// Stop halts the flush loop and waits for the final flush
func (b *Batcher) Stop() {
	b.lifecycle.Lock()
	defer b.lifecycle.Unlock()

	if b.cancel == nil {
		return
	}
	b.cancel()
	<-b.done
	b.cancel = nil
	b.done = nil
}
