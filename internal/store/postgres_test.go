package store

import (
	"context"
	"os"
	"testing"
	"time"

	"cart-service/internal/apperr"
	"cart-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) *PostgresStore {
	if os.Getenv("INTEGRATION_TESTS") == "" {
		t.Skip("Integration test - set INTEGRATION_TESTS=1 to run against a Postgres container")
	}

	ctx := context.Background()
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("carts"),
		postgres.WithUsername("app"),
		postgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := NewPostgresStore(dsn, Options{LockTimeout: 500 * time.Millisecond})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.RunMigrations())
	return s
}

func insertSKU(t *testing.T, s *PostgresStore, code string, price string, stock int) int64 {
	var id int64
	err := s.GetDB().Get(&id,
		"INSERT INTO skus (product_id, code, price, stock) VALUES (1, $1, $2, $3) RETURNING id",
		code, price, stock)
	require.NoError(t, err)
	return id
}

func TestPostgresCartLifecycle(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	skuID := insertSKU(t, s, "TEE-M", "19.99", 5)

	var cartID int64
	err := s.WithTx(ctx, func(tx Tx) error {
		cart := &models.Cart{DeviceIP: strPtr("10.0.0.1")}
		if err := tx.CreateCart(ctx, cart); err != nil {
			return err
		}
		cartID = cart.ID
		if err := tx.InsertCartLine(ctx, &models.CartLine{CartID: cart.ID, SKUID: skuID, Quantity: 2}); err != nil {
			return err
		}
		return tx.UpdateCartTotal(ctx, cart.ID, decimal.RequireFromString("39.98"))
	})
	require.NoError(t, err)

	cart, err := s.GetCart(ctx, cartID)
	require.NoError(t, err)
	require.Len(t, cart.Lines, 1)
	assert.Equal(t, "19.99", cart.Lines[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "39.98", cart.TotalAmount.StringFixed(2))
}

func TestPostgresDuplicateOpenCartIsConflict(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		if err := tx.CreateCart(ctx, &models.Cart{DeviceIP: strPtr("10.0.0.2")}); err != nil {
			return err
		}
		return tx.CreateCart(ctx, &models.Cart{DeviceIP: strPtr("10.0.0.2")})
	})
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestPostgresLockTimeoutIsBusy(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	skuID := insertSKU(t, s, "MUG", "5.00", 3)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithTx(ctx, func(tx Tx) error {
			if _, err := tx.LockSKUs(ctx, []int64{skuID}); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := s.WithTx(ctx, func(tx Tx) error {
		_, err := tx.LockSKUs(ctx, []int64{skuID})
		return err
	})
	close(done)
	assert.ErrorIs(t, err, apperr.ErrBusy)
}

func TestPostgresOrderNumberCollision(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx Tx) error {
		first := &models.Order{OrderNumber: "ORD-X", UserID: 1, CartID: 1, Status: models.OrderStatusPending}
		ok, err := tx.InsertOrder(ctx, first)
		require.NoError(t, err)
		assert.True(t, ok)

		second := &models.Order{OrderNumber: "ORD-X", UserID: 2, CartID: 2, Status: models.OrderStatusPending}
		ok, err = tx.InsertOrder(ctx, second)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}
