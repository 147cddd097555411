package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/codevault-backend/pkg/logger"
)

const (
	OrderExpiryJobName = "order_expiry"

	defaultPendingOrderTTL = 2 * time.Hour
	defaultExpiryBatch     = 100
)

type staleOrderExpirer interface {
	ExpireStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type OrderExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    staleOrderExpirer
	TTL       time.Duration
	BatchSize int
}

func NewOrderExpiryJob(params OrderExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultPendingOrderTTL
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatch
	}
	return &orderExpiryJob{logg: params.Logger, orders: params.Orders, ttl: ttl, batch: batch}, nil
}

type orderExpiryJob struct {
	logg   *logger.Logger
	orders staleOrderExpirer
	ttl    time.Duration
	batch  int
}

func (j *orderExpiryJob) Name() string { return OrderExpiryJobName }

func (j *orderExpiryJob) Run(ctx context.Context) error {
	expired, err := j.orders.ExpireStale(ctx, j.ttl, j.batch)
	if err != nil {
		return fmt.Errorf("expire unpaid orders (%d expired before failure): %w", expired, err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"ttl":     j.ttl.String(),
		"expired": expired,
	})
	j.logg.Info(logCtx, "order expiry complete")
	return nil
}
