package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cart-service/internal/apperr"
	"cart-service/internal/auth"
	"cart-service/internal/models"
	"cart-service/internal/store"
	"cart-service/internal/util"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	util.SetLogger(zap.NewNop())
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *recordingPublisher) record(eventType string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventType)
	return p.err
}

func (p *recordingPublisher) PublishCartCreated(ctx context.Context, e *models.CartCreatedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishCartMerged(ctx context.Context, e *models.CartMergedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderPlaced(ctx context.Context, e *models.OrderPlacedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderCancelled(ctx context.Context, e *models.OrderCancelledEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) PublishOrderStatusChanged(ctx context.Context, e *models.OrderStatusChangedEvent) error {
	return p.record(e.EventType)
}

func (p *recordingPublisher) Events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

type fixture struct {
	store     *store.MemoryStore
	publisher *recordingPublisher
	carts     *CartService
	checkout  *CheckoutService
	orders    *OrderService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore(time.Second)
	pub := &recordingPublisher{}
	return &fixture{
		store:     st,
		publisher: pub,
		carts:     NewCartService(st, pub),
		checkout:  NewCheckoutService(st, pub, nil, NewOrderNumberFunc("ORD")),
		orders:    NewOrderService(st, pub),
	}
}

func (f *fixture) sku(t *testing.T, code, price string, stock int) models.SKU {
	t.Helper()
	return f.store.PutSKU(models.SKU{
		ProductID: 1,
		Code:      code,
		Price:     decimal.RequireFromString(price),
		Stock:     stock,
	})
}

func (f *fixture) stock(t *testing.T, skuID int64) int {
	t.Helper()
	sku, err := f.store.GetSKU(context.Background(), skuID)
	require.NoError(t, err)
	return sku.Stock
}

func userActor(id int64, ip string) auth.Actor {
	return auth.Authenticated(id, ip, "customer")
}

func testAddress() *models.AddressFields {
	return &models.AddressFields{
		RecipientName: "Ada Lovelace",
		Phone:         "+44 20 7946 0000",
		Line1:         "12 St James's Square",
		City:          "London",
		PostalCode:    "SW1Y 4JH",
		Country:       "GB",
	}
}

func checkoutRequest(cartID int64) *CheckoutRequest {
	return &CheckoutRequest{
		CartID:   cartID,
		Shipping: ShippingInput{Address: testAddress()},
		Payment:  PaymentInput{Mode: "CARD"},
	}
}

// assertTotal checks the stored total equals the sum over current lines
func assertTotal(t *testing.T, cart *models.Cart) {
	t.Helper()
	require.True(t, cartTotal(cart.Lines).Equal(cart.TotalAmount),
		"total %s does not match lines", cart.TotalAmount)
}

// concurrently runs every fn at once and returns their errors in order
func concurrently(fns ...func() error) []error {
	errs := make([]error, len(fns))
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i, fn := range fns {
		wg.Add(1)
		go func(i int, fn func() error) {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}(i, fn)
	}
	close(start)
	wg.Wait()
	return errs
}

// requireOneWinner asserts exactly one call succeeded and every other call
// failed for lack of stock.
func requireOneWinner(t *testing.T, errs []error) int {
	t.Helper()
	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "more than one call succeeded")
			winner = i
			continue
		}
		require.True(t, errors.Is(err, apperr.ErrInsufficientStock), "call %d: %v", i, err)
	}
	require.NotEqual(t, -1, winner, "no call succeeded")
	return winner
}
