package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cart-service/internal/apperr"
	"cart-service/internal/auth"
	"cart-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckout_PlacesOrderAndClosesCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.sku(t, "C", "10.00", 5)
	actor := userActor(20, "10.1.0.1")

	cart, _, err := f.carts.ResolveOrCreateCart(ctx, actor)
	require.NoError(t, err)
	_, err = f.carts.AddLine(ctx, actor, cart.ID, c.ID, 3)
	require.NoError(t, err)

	order, err := f.checkout.Checkout(ctx, actor, checkoutRequest(cart.ID))
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusPending, order.Status)
	assert.Equal(t, int64(20), order.UserID)
	assert.True(t, decimal.RequireFromString("30.00").Equal(order.TotalAmount))
	assert.True(t, strings.HasPrefix(order.OrderNumber, "ORD-000020-"))
	require.Len(t, order.Lines, 1)
	assert.Equal(t, 3, order.Lines[0].Quantity)
	assert.True(t, c.Price.Equal(order.Lines[0].UnitPrice))
	require.NotNil(t, order.Shipping)
	assert.Equal(t, "London", order.Shipping.City)
	require.NotNil(t, order.Payment)
	assert.Equal(t, "CARD", order.Payment.Mode)
	assert.True(t, order.TotalAmount.Equal(order.Payment.Amount))
	assert.True(t, strings.HasPrefix(order.Payment.Reference, "PAY-"))

	assert.Equal(t, 2, f.stock(t, c.ID))

	closed, err := f.carts.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	assert.True(t, closed.CheckoutClosed)
	assert.Empty(t, closed.Lines)
	assert.True(t, closed.TotalAmount.IsZero())

	stored, err := f.orders.GetOrder(ctx, actor, order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.OrderNumber, stored.OrderNumber)
	assert.Contains(t, f.publisher.Events(), models.EventTypeOrderPlaced)

	_, err = f.checkout.Checkout(ctx, actor, checkoutRequest(cart.ID))
	assert.True(t, errors.Is(err, apperr.ErrInvalidState), "second checkout of the same cart")

	_, err = f.carts.AddLine(ctx, actor, cart.ID, c.ID, 1)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState), "closed cart is immutable")

	fresh, outcome, err := f.carts.ResolveOrCreateCart(ctx, actor)
	require.NoError(t, err)
	assert.Equal(t, CartCreated, outcome)
	assert.NotEqual(t, cart.ID, fresh.ID)
}

func TestCheckout_InsufficientStockIsAtomic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.sku(t, "A", "1.00", 5)
	b := f.sku(t, "B", "2.00", 5)
	actor := userActor(21, "10.1.0.2")

	cart, _, err := f.carts.ResolveOrCreateCart(ctx, actor)
	require.NoError(t, err)
	_, err = f.carts.AddLine(ctx, actor, cart.ID, a.ID, 2)
	require.NoError(t, err)
	_, err = f.carts.AddLine(ctx, actor, cart.ID, b.ID, 4)
	require.NoError(t, err)

	// stock drops under the cart between add and checkout
	f.store.PutSKU(models.SKU{ID: b.ID, ProductID: 1, Code: "B", Price: b.Price, Stock: 3})

	_, err = f.checkout.Checkout(ctx, actor, checkoutRequest(cart.ID))
	var stockErr *apperr.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, b.ID, stockErr.SKUID)

	assert.Equal(t, 5, f.stock(t, a.ID), "earlier line decrement rolled back")
	assert.Equal(t, 3, f.stock(t, b.ID))

	after, err := f.carts.GetCart(ctx, cart.ID)
	require.NoError(t, err)
	assert.False(t, after.CheckoutClosed)
	assert.Len(t, after.Lines, 2)

	orders, err := f.orders.ListOrders(ctx, actor)
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestCheckout_ConcurrentOverStockOneOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.sku(t, "A", "3.00", 5)

	actors := []auth.Actor{userActor(27, "10.1.0.20"), userActor(28, "10.1.0.21")}
	cartIDs := make([]int64, len(actors))
	for i, actor := range actors {
		cart, _, err := f.carts.ResolveOrCreateCart(ctx, actor)
		require.NoError(t, err)
		_, err = f.carts.AddLine(ctx, actor, cart.ID, a.ID, 3)
		require.NoError(t, err)
		cartIDs[i] = cart.ID
	}

	checkout := func(i int) func() error {
		return func() error {
			_, err := f.checkout.Checkout(ctx, actors[i], checkoutRequest(cartIDs[i]))
			return err
		}
	}
	winner := requireOneWinner(t, concurrently(checkout(0), checkout(1)))
	assert.Equal(t, 2, f.stock(t, a.ID))

	loser := 1 - winner
	open, err := f.carts.GetCart(ctx, cartIDs[loser])
	require.NoError(t, err)
	assert.False(t, open.CheckoutClosed, "losing cart stays open")
	require.Len(t, open.Lines, 1)

	placed, err := f.orders.ListOrders(ctx, actors[winner])
	require.NoError(t, err)
	assert.Len(t, placed, 1)
	none, err := f.orders.ListOrders(ctx, actors[loser])
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCheckout_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.sku(t, "A", "1.00", 5)
	actor := userActor(22, "10.1.0.3")

	cart, _, err := f.carts.ResolveOrCreateCart(ctx, actor)
	require.NoError(t, err)

	_, err = f.checkout.Checkout(ctx, actor, checkoutRequest(cart.ID))
	assert.True(t, errors.Is(err, apperr.ErrInvalidState), "empty cart")

	_, err = f.carts.AddLine(ctx, actor, cart.ID, a.ID, 1)
	require.NoError(t, err)

	_, err = f.checkout.Checkout(ctx, auth.Guest("10.1.0.3"), checkoutRequest(cart.ID))
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied), "guest")

	_, err = f.checkout.Checkout(ctx, userActor(23, "10.1.0.3"), checkoutRequest(cart.ID))
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied), "other user")

	_, err = f.checkout.Checkout(ctx, actor, checkoutRequest(cart.ID+50))
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	noAddress := checkoutRequest(cart.ID)
	noAddress.Shipping = ShippingInput{}
	_, err = f.checkout.Checkout(ctx, actor, noAddress)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	both := checkoutRequest(cart.ID)
	both.Shipping.UseSaved = true
	_, err = f.checkout.Checkout(ctx, actor, both)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	noSaved := checkoutRequest(cart.ID)
	noSaved.Shipping = ShippingInput{UseSaved: true}
	_, err = f.checkout.Checkout(ctx, actor, noSaved)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	partial := checkoutRequest(cart.ID)
	partial.Shipping.Address = &models.AddressFields{RecipientName: "X"}
	_, err = f.checkout.Checkout(ctx, actor, partial)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	noMode := checkoutRequest(cart.ID)
	noMode.Payment.Mode = ""
	_, err = f.checkout.Checkout(ctx, actor, noMode)
	assert.True(t, errors.Is(err, apperr.ErrInvalidState))

	assert.Equal(t, 5, f.stock(t, a.ID))
}

func TestCheckout_UsesSavedAddress(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.sku(t, "A", "1.00", 5)
	actor := userActor(24, "10.1.0.4")

	saved := *testAddress()
	saved.City = "Cambridge"
	f.store.PutAddress(models.Address{UserID: 24, IsDefault: true, AddressFields: saved})

	cart, _, err := f.carts.ResolveOrCreateCart(ctx, actor)
	require.NoError(t, err)
	_, err = f.carts.AddLine(ctx, actor, cart.ID, a.ID, 1)
	require.NoError(t, err)

	req := checkoutRequest(cart.ID)
	req.Shipping = ShippingInput{UseSaved: true}
	amount := decimal.RequireFromString("0.50")
	req.Payment.Amount = &amount
	req.Payment.Reference = "ext-123"

	order, err := f.checkout.Checkout(ctx, actor, req)
	require.NoError(t, err)
	assert.Equal(t, "Cambridge", order.Shipping.City)
	assert.True(t, amount.Equal(order.Payment.Amount))
	assert.Equal(t, "ext-123", order.Payment.Reference)
}

func TestCheckout_OrderNumberCollision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.sku(t, "A", "1.00", 10)
	f.checkout.orderNumber = func(userID, cartID int64) string { return "ORD-FIXED" }

	first := userActor(25, "10.1.0.5")
	cart, _, err := f.carts.ResolveOrCreateCart(ctx, first)
	require.NoError(t, err)
	_, err = f.carts.AddLine(ctx, first, cart.ID, a.ID, 1)
	require.NoError(t, err)
	_, err = f.checkout.Checkout(ctx, first, checkoutRequest(cart.ID))
	require.NoError(t, err)

	second := userActor(26, "10.1.0.6")
	cart2, _, err := f.carts.ResolveOrCreateCart(ctx, second)
	require.NoError(t, err)
	_, err = f.carts.AddLine(ctx, second, cart2.ID, a.ID, 2)
	require.NoError(t, err)

	_, err = f.checkout.Checkout(ctx, second, checkoutRequest(cart2.ID))
	assert.True(t, errors.Is(err, apperr.ErrOrderIDCollision))
	assert.Equal(t, 9, f.stock(t, a.ID))

	calls := 0
	f.checkout.orderNumber = func(userID, cartID int64) string {
		calls++
		if calls == 1 {
			return "ORD-FIXED"
		}
		return "ORD-RETRIED"
	}
	order, err := f.checkout.Checkout(ctx, second, checkoutRequest(cart2.ID))
	require.NoError(t, err)
	assert.Equal(t, "ORD-RETRIED", order.OrderNumber)
}

type fakeIdempotency struct {
	orders map[string]int64
}

func (f *fakeIdempotency) Claim(ctx context.Context, key string) (int64, bool, error) {
	if id, ok := f.orders[key]; ok {
		return id, false, nil
	}
	f.orders[key] = 0
	return 0, true, nil
}

func (f *fakeIdempotency) Complete(ctx context.Context, key string, orderID int64) error {
	f.orders[key] = orderID
	return nil
}

func (f *fakeIdempotency) Release(ctx context.Context, key string) error {
	delete(f.orders, key)
	return nil
}

func TestCheckout_IdempotencyKeyReplaysOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.sku(t, "A", "1.00", 10)
	idem := &fakeIdempotency{orders: map[string]int64{}}
	f.checkout.idempotency = idem
	actor := userActor(27, "10.1.0.7")

	cart, _, err := f.carts.ResolveOrCreateCart(ctx, actor)
	require.NoError(t, err)

	req := checkoutRequest(cart.ID)
	req.IdempotencyKey = "k-1"
	_, err = f.checkout.Checkout(ctx, actor, req)
	require.Error(t, err)
	assert.NotContains(t, idem.orders, "k-1", "failed checkout releases the key")

	_, err = f.carts.AddLine(ctx, actor, cart.ID, a.ID, 2)
	require.NoError(t, err)

	first, err := f.checkout.Checkout(ctx, actor, req)
	require.NoError(t, err)
	replay, err := f.checkout.Checkout(ctx, actor, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, replay.ID)
	assert.Equal(t, 8, f.stock(t, a.ID))

	_, err = f.checkout.Checkout(ctx, userActor(28, "10.1.0.7"), req)
	assert.True(t, errors.Is(err, apperr.ErrPermissionDenied))
}

func TestNewOrderNumberFunc(t *testing.T) {
	gen := NewOrderNumberFunc("SHOP")

	n := gen(42, 7)
	parts := strings.Split(n, "-")
	require.Len(t, parts, 4)
	assert.Equal(t, "SHOP", parts[0])
	assert.Equal(t, "000042", parts[1])
	assert.Equal(t, "7", parts[2])
	assert.Len(t, parts[3], 8)
	assert.Equal(t, strings.ToUpper(parts[3]), parts[3])

	assert.Equal(t, "567890", strings.Split(gen(1234567890, 1), "-")[1])
	assert.NotEqual(t, gen(1, 1), gen(1, 1))
}
