// Package poller drives carrier tracking checks for every shipment
// still in flight. It is safe to run concurrently with itself and with
// the webhook paths: all mutation goes through the lifecycle's
// conditional updates, so overlapping observers degrade to no-ops.
package poller

import (
	"context"
	"time"

	"shipment-service/internal/models"
	"shipment-service/internal/service"
	"shipment-service/internal/util"

	"go.uber.org/zap"
)

// CycleLock guards against overlapping poll cycles from the scheduler.
// The redis client satisfies it.
type CycleLock interface {
	AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, lockKey string) error
}

const cycleLockKey = "carrier-poll-cycle"

// Summary aggregates one poll cycle for observability.
type Summary struct {
	Checked int
	Updated int
	Locked  int
	Skipped int
	Failed  int
}

// Poller periodically reconciles stored carrier statuses against the
// carrier APIs.
type Poller struct {
	store     service.ShipmentStore
	carriers  service.CarrierLookup
	lifecycle *service.LifecycleService
	lock      CycleLock
	logger    *zap.Logger
	interval  time.Duration
	batchSize int
}

// NewPoller creates a new carrier status poller
func NewPoller(
	store service.ShipmentStore,
	carriers service.CarrierLookup,
	lifecycle *service.LifecycleService,
	lock CycleLock,
	interval time.Duration,
	batchSize int,
) *Poller {
	return &Poller{
		store:     store,
		carriers:  carriers,
		lifecycle: lifecycle,
		lock:      lock,
		logger:    util.GetLogger(),
		interval:  interval,
		batchSize: batchSize,
	}
}

// Start runs poll cycles on the configured interval until the context
// is cancelled.
func (p *Poller) Start(ctx context.Context) {
	p.logger.Info("Starting carrier poller",
		zap.Duration("interval", p.interval),
		zap.Int("batch_size", p.batchSize))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Carrier poller stopped")
			return
		case <-ticker.C:
			p.runLocked(ctx)
		}
	}
}

// runLocked wraps RunCycle in the overlap lock. A cycle that cannot
// take the lock is skipped, not queued.
func (p *Poller) runLocked(ctx context.Context) {
	acquired, err := p.lock.AcquireLock(ctx, cycleLockKey, p.interval)
	if err != nil {
		p.logger.Warn("Poll cycle lock unavailable, running unguarded", zap.Error(err))
	} else if !acquired {
		p.logger.Info("Previous poll cycle still running, skipping")
		return
	} else {
		defer func() {
			if err := p.lock.ReleaseLock(ctx, cycleLockKey); err != nil {
				p.logger.Warn("Failed to release poll cycle lock", zap.Error(err))
			}
		}()
	}

	summary, err := p.RunCycle(ctx)
	if err != nil {
		p.logger.Error("Poll cycle failed", zap.Error(err))
		return
	}
	p.logger.Info("Poll cycle completed",
		zap.Int("checked", summary.Checked),
		zap.Int("updated", summary.Updated),
		zap.Int("locked", summary.Locked),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
}

// RunCycle checks one stale-first batch of in-flight shipments. A
// failure on one shipment never aborts the rest of the batch.
func (p *Poller) RunCycle(ctx context.Context) (*Summary, error) {
	ctx, span := util.StartSpan(ctx, "Poller.RunCycle")
	defer span.End()

	util.PollCyclesTotal.Inc()

	shipments, err := p.store.ListActiveShipments(ctx, p.batchSize)
	if err != nil {
		return nil, err
	}

	summary := &Summary{}
	for i := range shipments {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		p.checkShipment(ctx, &shipments[i], summary)
	}

	return summary, nil
}

func (p *Poller) checkShipment(ctx context.Context, shipment *models.Shipment, summary *Summary) {
	summary.Checked++
	util.PollShipmentsCheckedTotal.Inc()

	status, err := p.carriers.LookupStatus(ctx, shipment.Carrier, shipment.TrackingNumber)
	if err != nil {
		// Lookup contract says errors degrade to absence; anything
		// surfacing here is a client bug worth counting.
		summary.Failed++
		util.PollFailuresTotal.Inc()
		p.logger.Error("Carrier lookup error",
			zap.Int64("shipment_id", shipment.ID),
			zap.Error(err))
		return
	}
	if status == "" {
		summary.Skipped++
		return
	}
	if status == shipment.CarrierStatus {
		summary.Skipped++
		if err := p.store.TouchShipment(ctx, shipment.ID); err != nil {
			p.logger.Warn("Failed to touch shipment",
				zap.Int64("shipment_id", shipment.ID),
				zap.Error(err))
		}
		return
	}

	advanced, locked, err := p.lifecycle.AdvanceCarrierStatus(ctx, shipment, status)
	if err != nil {
		summary.Failed++
		util.PollFailuresTotal.Inc()
		p.logger.Error("Failed to advance carrier status",
			zap.Int64("shipment_id", shipment.ID),
			zap.String("status", status),
			zap.Error(err))
		return
	}
	if advanced {
		summary.Updated++
	} else {
		summary.Skipped++
	}
	if locked {
		summary.Locked++
	}
}
