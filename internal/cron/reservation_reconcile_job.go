package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/chatloop/chatloop-backend/internal/charging"
	"github.com/chatloop/chatloop-backend/pkg/db/models"
	pkgerrors "github.com/chatloop/chatloop-backend/pkg/errors"
	"github.com/chatloop/chatloop-backend/pkg/logger"
	"go.uber.org/multierr"
)

const (
	defaultReservationTTL       = 24 * time.Hour
	defaultReconcileBatchSize   = 200
	reservationReconcileJobName = "reservation-reconcile"
)

type stuckReservationLister interface {
	ListStuckReserved(ctx context.Context, olderThan time.Time, limit int) ([]models.BillingRecord, error)
}

// ReservationReconcileJobParams configures the stuck-reservation sweep.
type ReservationReconcileJobParams struct {
	Logger         *logger.Logger
	BillingStore   stuckReservationLister
	Charging       charging.Service
	ReservationTTL time.Duration
	BatchSize      int
	Now            func() time.Time
}

// NewReservationReconcileJob builds the sweep that releases reservations the
// delivery-outcome path never settled. The ledger does not expire holds on
// its own; this job is the out-of-band settlement trigger.
func NewReservationReconcileJob(params ReservationReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.BillingStore == nil {
		return nil, fmt.Errorf("billing store required")
	}
	if params.Charging == nil {
		return nil, fmt.Errorf("charging service required")
	}
	ttl := params.ReservationTTL
	if ttl <= 0 {
		ttl = defaultReservationTTL
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReconcileBatchSize
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &reservationReconcileJob{
		logg:      params.Logger,
		store:     params.BillingStore,
		charging:  params.Charging,
		ttl:       ttl,
		batchSize: batchSize,
		now:       now,
	}, nil
}

type reservationReconcileJob struct {
	logg      *logger.Logger
	store     stuckReservationLister
	charging  charging.Service
	ttl       time.Duration
	batchSize int
	now       func() time.Time
}

func (j *reservationReconcileJob) Name() string { return reservationReconcileJobName }

func (j *reservationReconcileJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	records, err := j.store.ListStuckReserved(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stuck reservations: %w", err)
	}

	var errs error
	released := 0
	for i := range records {
		if err := j.releaseRecord(ctx, &records[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		released++
	}

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(records),
		"released":   released,
	})
	j.logg.Info(reportCtx, "reservation reconcile loop complete")
	return errs
}

func (j *reservationReconcileJob) releaseRecord(ctx context.Context, record *models.BillingRecord) error {
	recordCtx := j.logg.WithConversationID(j.logg.WithUserID(ctx, record.UserID.String()), record.ConversationID)
	_, err := j.charging.SettleFailure(recordCtx, record.UserID, record.ConversationID)
	if err != nil {
		// A settlement raced the sweep; the record is no longer stuck.
		if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
			j.logg.Info(recordCtx, "reservation settled while sweeping, skipping")
			return nil
		}
		return fmt.Errorf("release conversation %s for user %s: %w", record.ConversationID, record.UserID, err)
	}
	j.logg.Info(recordCtx, "expired reservation released")
	return nil
}
