package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/maltedev/price-tracker/internal/database"
	"github.com/maltedev/price-tracker/internal/models"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeProductTracked is published whenever a product record is written
	EventTypeProductTracked EventType = "PRODUCT_TRACKED"

	AggregateProduct = "product"
)

// ProductTrackedPayload is the body of a PRODUCT_TRACKED event.
type ProductTrackedPayload struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	ProductID int64     `json:"product_id"`
	URL       string    `json:"url"`
	Name      string    `json:"name"`
	Store     string    `json:"store"`
	Price     Price     `json:"price"`
	ImageURL  *string   `json:"image_url,omitempty"`
	ScrapedAt time.Time `json:"scraped_at"`
	Source    string    `json:"source"`
}

type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// OutboxWriter persists an event inside a caller-owned transaction.
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher writes product events to the transactional outbox; the relay
// forwards them to Redis once the surrounding transaction commits.
type Publisher struct {
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

func NewPublisher(outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	return &Publisher{
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

func NewProductTrackedPayload(p *models.Product) *ProductTrackedPayload {
	return &ProductTrackedPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypeProductTracked),
		Timestamp: time.Now().UTC(),
		ProductID: p.ID,
		URL:       p.URL,
		Name:      p.Name,
		Store:     p.Store,
		Price: Price{
			Amount:   p.Price,
			Currency: p.Currency,
		},
		ImageURL:  p.ImageURL,
		ScrapedAt: p.ScrapedAt,
		Source:    "tracker",
	}
}

// PublishProductTracked implements database.ProductPublisher.
func (p *Publisher) PublishProductTracked(ctx context.Context, tx pgx.Tx, product *models.Product) error {
	payload := NewProductTrackedPayload(product)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: AggregateProduct,
		AggregateID:   strconv.FormatInt(product.ID, 10),
		EventType:     string(EventTypeProductTracked),
		Payload:       data,
		TargetStream:  p.stream,
	}

	if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}

	p.logger.Debug("event written to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"product_id", product.ID,
		"outbox_id", event.ID,
	)

	return nil
}
