package internal

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"livecart/internal/storage"
)

// Catalog looks products up for highlight summaries.
type Catalog interface {
	GetProduct(ctx context.Context, id string) (*storage.Product, error)
}

// ProductSummary is the denormalized product pushed with highlight:update.
type ProductSummary struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Slug     string  `json:"slug"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Image    string  `json:"image"`
	InStock  bool    `json:"inStock"`
}

func summarize(product *storage.Product) *ProductSummary {
	summary := &ProductSummary{
		ID:       product.ID,
		Name:     product.Name,
		Slug:     product.Slug,
		Price:    product.Price,
		Currency: product.Currency,
		InStock:  product.Stock > 0,
	}
	if len(product.Images) > 0 {
		summary.Image = product.Images[0]
	}
	return summary
}

// PresenceRegistry is the single source of truth for who is broadcasting and
// which product is highlighted. Whenever highlighted is set, broadcaster is set.
// Broadcasts happen under the lock so peers observe changes in state order.
type PresenceRegistry struct {
	mutex       sync.Mutex
	broadcaster string
	highlighted string
	hub         Broadcaster
	catalog     Catalog
	metrics     *Metrics
	logger      *slog.Logger
}

func NewPresenceRegistry(hub Broadcaster, catalog Catalog, metrics *Metrics, logger *slog.Logger) *PresenceRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &PresenceRegistry{hub: hub, catalog: catalog, metrics: metrics, logger: logger}
}

// Snapshot returns the current broadcaster and highlighted product ids.
func (registry *PresenceRegistry) Snapshot() (broadcaster, highlighted string) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return registry.broadcaster, registry.highlighted
}

// Broadcaster returns the current broadcaster's connection id, or "".
func (registry *PresenceRegistry) Broadcaster() string {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	return registry.broadcaster
}

// SetBroadcaster makes connID the broadcaster, replacing any previous one, and
// announces it to every other peer.
func (registry *PresenceRegistry) SetBroadcaster(connID string) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	registry.broadcaster = connID
	registry.metrics.broadcasterChanged()
	registry.logger.Info("broadcaster registered", "conn", connID)
	registry.hub.PublishExcept(connID, EventBroadcaster, nil)
}

// ClearBroadcaster ends the broadcast if connID is the broadcaster. The
// highlight goes with it. Reports whether anything changed.
func (registry *PresenceRegistry) ClearBroadcaster(connID string) bool {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if connID == "" || registry.broadcaster != connID {
		return false
	}
	registry.broadcaster = ""
	registry.highlighted = ""
	registry.logger.Info("broadcaster left", "conn", connID)
	registry.hub.Publish(EventBroadcasterEnded, nil)
	registry.hub.Publish(EventHighlightUpdate, nil)
	return true
}

// SetHighlight highlights a product on behalf of the broadcaster. Unknown or
// inactive products clear the highlight instead. Requests from anyone else are
// ignored, including a broadcaster that was replaced while the lookup ran.
func (registry *PresenceRegistry) SetHighlight(ctx context.Context, productID string, requester string) error {
	if registry.Broadcaster() != requester || requester == "" {
		return nil
	}
	productID = strings.TrimSpace(productID)
	var product *storage.Product
	if productID != "" {
		var err error
		product, err = registry.catalog.GetProduct(ctx, productID)
		if err != nil {
			return fmt.Errorf("lookup product %s: %w", productID, err)
		}
	}

	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if registry.broadcaster != requester {
		return nil
	}
	if product == nil || !product.IsActive {
		registry.highlighted = ""
		registry.hub.Publish(EventHighlightUpdate, nil)
		return nil
	}
	registry.highlighted = product.ID
	registry.hub.Publish(EventHighlightUpdate, summarize(product))
	return nil
}

// ClearHighlight removes the highlight on behalf of the broadcaster.
func (registry *PresenceRegistry) ClearHighlight(requester string) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if requester == "" || registry.broadcaster != requester {
		return
	}
	registry.highlighted = ""
	registry.hub.Publish(EventHighlightUpdate, nil)
}

// SendHighlight catches connID up on the current highlight. The lookup runs
// outside the lock; the result is sent under it, and only if the highlight has
// not changed meanwhile, so it cannot overtake a newer highlight:update.
func (registry *PresenceRegistry) SendHighlight(ctx context.Context, connID string) error {
	_, highlighted := registry.Snapshot()
	if highlighted == "" {
		return nil
	}
	product, err := registry.catalog.GetProduct(ctx, highlighted)
	if err != nil {
		return fmt.Errorf("lookup product %s: %w", highlighted, err)
	}

	registry.mutex.Lock()
	defer registry.mutex.Unlock()
	if registry.highlighted != highlighted {
		return nil
	}
	if product == nil || !product.IsActive {
		registry.hub.SendTo(connID, EventHighlightUpdate, nil)
		return nil
	}
	registry.hub.SendTo(connID, EventHighlightUpdate, summarize(product))
	return nil
}
