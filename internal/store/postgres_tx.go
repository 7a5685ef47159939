package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"cart-service/internal/apperr"
	"cart-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

const (
	skuColumns      = "id, product_id, code, price, stock, updated_at"
	cartColumns     = "id, user_id, device_ip, total_amount, checkout_closed, created_at, updated_at"
	cartLineColumns = `cl.id, cl.cart_id, cl.sku_id, cl.quantity, s.price AS unit_price,
		cl.created_at, cl.updated_at`
)

type pgTx struct {
	tx *sqlx.Tx
}

func (t *pgTx) LockActor(ctx context.Context, key string) error {
	_, err := t.tx.ExecContext(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key)
	return err
}

func (t *pgTx) findCart(ctx context.Context, query string, arg interface{}) (*models.Cart, error) {
	var cart models.Cart
	err := t.tx.GetContext(ctx, &cart, query, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

func (t *pgTx) FindOpenCartByUser(ctx context.Context, userID int64) (*models.Cart, error) {
	return t.findCart(ctx,
		"SELECT "+cartColumns+" FROM carts WHERE user_id = $1 AND NOT checkout_closed FOR UPDATE",
		userID)
}

func (t *pgTx) FindOpenCartByDevice(ctx context.Context, deviceIP string) (*models.Cart, error) {
	return t.findCart(ctx,
		"SELECT "+cartColumns+" FROM carts WHERE device_ip = $1 AND user_id IS NULL AND NOT checkout_closed FOR UPDATE",
		deviceIP)
}

func (t *pgTx) CreateCart(ctx context.Context, cart *models.Cart) error {
	query := `
		INSERT INTO carts (user_id, device_ip, total_amount, checkout_closed)
		VALUES ($1, $2, 0, FALSE)
		RETURNING ` + cartColumns

	return t.tx.GetContext(ctx, cart, query, cart.UserID, cart.DeviceIP)
}

func (t *pgTx) LockCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	cart, err := t.findCart(ctx, "SELECT "+cartColumns+" FROM carts WHERE id = $1 FOR UPDATE", cartID)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return nil, apperr.NotFound("cart %d", cartID)
	}
	return cart, nil
}

func (t *pgTx) DeleteCart(ctx context.Context, cartID int64) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM carts WHERE id = $1", cartID)
	return err
}

func (t *pgTx) CloseCart(ctx context.Context, cartID int64) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE carts SET checkout_closed = TRUE, total_amount = 0, updated_at = NOW() WHERE id = $1",
		cartID)
	return err
}

func (t *pgTx) UpdateCartTotal(ctx context.Context, cartID int64, total decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE carts SET total_amount = $1, updated_at = NOW() WHERE id = $2",
		total, cartID)
	return err
}

func (t *pgTx) ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	return selectCartLines(ctx, t.tx, cartID)
}

func selectCartLines(ctx context.Context, q sqlx.QueryerContext, cartID int64) ([]models.CartLine, error) {
	lines := []models.CartLine{}
	err := sqlx.SelectContext(ctx, q, &lines,
		"SELECT "+cartLineColumns+` FROM cart_lines cl
		JOIN skus s ON s.id = cl.sku_id
		WHERE cl.cart_id = $1 ORDER BY cl.id`, cartID)
	return lines, err
}

func (t *pgTx) InsertCartLine(ctx context.Context, line *models.CartLine) error {
	query := `
		INSERT INTO cart_lines (cart_id, sku_id, quantity)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRowxContext(ctx, query, line.CartID, line.SKUID, line.Quantity).
		Scan(&line.ID, &line.CreatedAt, &line.UpdatedAt)
}

func (t *pgTx) UpdateCartLineQuantity(ctx context.Context, lineID int64, quantity int) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE cart_lines SET quantity = $1, updated_at = NOW() WHERE id = $2",
		quantity, lineID)
	return err
}

func (t *pgTx) DeleteCartLine(ctx context.Context, lineID int64) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE id = $1", lineID)
	return err
}

func (t *pgTx) DeleteCartLines(ctx context.Context, cartID int64) error {
	_, err := t.tx.ExecContext(ctx, "DELETE FROM cart_lines WHERE cart_id = $1", cartID)
	return err
}

func (t *pgTx) LockSKUs(ctx context.Context, skuIDs []int64) (map[int64]*models.SKU, error) {
	ids := uniqueSorted(skuIDs)
	if len(ids) == 0 {
		return map[int64]*models.SKU{}, nil
	}

	var skus []models.SKU
	err := t.tx.SelectContext(ctx, &skus,
		"SELECT "+skuColumns+" FROM skus WHERE id = ANY($1) ORDER BY id FOR UPDATE",
		pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to lock skus: %w", err)
	}

	result := make(map[int64]*models.SKU, len(skus))
	for i := range skus {
		result[skus[i].ID] = &skus[i]
	}
	for _, id := range ids {
		if _, ok := result[id]; !ok {
			return nil, apperr.NotFound("sku %d", id)
		}
	}
	return result, nil
}

func (t *pgTx) AdjustStock(ctx context.Context, skuID int64, delta int) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE skus SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
		delta, skuID)
	return err
}

func (t *pgTx) GetDefaultAddress(ctx context.Context, userID int64) (*models.Address, error) {
	var addr models.Address
	err := t.tx.GetContext(ctx, &addr, `
		SELECT id, user_id, is_default, recipient_name, phone, line1, line2, city, state,
			postal_code, country, created_at
		FROM addresses WHERE user_id = $1 AND is_default
		ORDER BY id LIMIT 1`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

func (t *pgTx) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
