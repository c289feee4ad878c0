package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"settlement-engine/internal/broker"
	"settlement-engine/internal/models"
	"settlement-engine/internal/util"
)

// AuditStore persists the settlement projection; *store.Store implements it
type AuditStore interface {
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
	CreateSettlement(ctx context.Context, st *models.Settlement) error
}

// AuditWorker projects fulfilled sales into the settlements table
type AuditWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	store        AuditStore
	logger       *zap.Logger
}

// NewAuditWorker creates a new audit worker
func NewAuditWorker(consumer *broker.Consumer, store AuditStore) *AuditWorker {
	w := &AuditWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		store:        store,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnOrderFulfilled(w.HandleOrderFulfilled)
	return w
}

// Start starts the worker
func (w *AuditWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting audit worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AuditWorker) Stop() error {
	w.logger.Info("Stopping audit worker")
	return w.consumer.Close()
}

// HandleOrderFulfilled records one settlement. Redelivered events are skipped.
func (w *AuditWorker) HandleOrderFulfilled(ctx context.Context, event *models.OrderFulfilledEvent) error {
	ctx, span := util.StartSpan(ctx, "AuditWorker.HandleOrderFulfilled")
	defer span.End()

	processed, err := w.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		w.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	st := &models.Settlement{
		SaleID:            event.SaleID,
		Offerer:           event.Offerer,
		Buyer:             event.Buyer,
		Currency:          event.Currency,
		Price:             event.Price,
		SellerAmount:      event.SellerAmount,
		CreatorAmount:     event.CreatorAmount,
		MarketplaceAmount: event.MarketplaceAmount,
		SettledAt:         event.Timestamp,
	}
	if err := w.store.CreateSettlement(ctx, st); err != nil {
		return fmt.Errorf("failed to create settlement: %w", err)
	}

	if err := w.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}

	util.AuditRecordsTotal.Inc()
	w.logger.Info("Settlement recorded",
		zap.String("sale_id", event.SaleID),
		zap.String("price", event.Price))
	return nil
}
