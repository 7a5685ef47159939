package store

import (
	"context"
	"database/sql"
	"errors"

	"cart-service/internal/apperr"
	"cart-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

const orderColumns = `id, order_number, user_id, cart_id, total_amount, status, cancel_reason,
	updated_by, created_at, updated_at`

func (t *pgTx) InsertOrder(ctx context.Context, order *models.Order) (bool, error) {
	query := `
		INSERT INTO orders (order_number, user_id, cart_id, total_amount, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (order_number) DO NOTHING
		RETURNING id, created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		order.OrderNumber, order.UserID, order.CartID, order.TotalAmount, order.Status).
		Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *pgTx) InsertOrderLine(ctx context.Context, line *models.OrderLine) error {
	query := `
		INSERT INTO order_lines (order_id, sku_id, quantity, unit_price, subtotal)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return t.tx.GetContext(ctx, &line.ID, query,
		line.OrderID, line.SKUID, line.Quantity, line.UnitPrice, line.Subtotal)
}

func (t *pgTx) UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET total_amount = $1, updated_at = NOW() WHERE id = $2",
		total, orderID)
	return err
}

func (t *pgTx) InsertShippingAddress(ctx context.Context, addr *models.ShippingAddress) error {
	query := `
		INSERT INTO shipping_addresses (order_id, recipient_name, phone, line1, line2, city,
			state, postal_code, country)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`

	return t.tx.QueryRowxContext(ctx, query,
		addr.OrderID, addr.RecipientName, addr.Phone, addr.Line1, addr.Line2, addr.City,
		addr.State, addr.PostalCode, addr.Country).
		Scan(&addr.ID, &addr.CreatedAt)
}

func (t *pgTx) InsertPayment(ctx context.Context, payment *models.PaymentRecord) error {
	query := `
		INSERT INTO payments (order_id, mode, amount, status, reference)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return t.tx.QueryRowxContext(ctx, query,
		payment.OrderID, payment.Mode, payment.Amount, payment.Status, payment.Reference).
		Scan(&payment.ID, &payment.CreatedAt)
}

func (t *pgTx) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order,
		"SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("order %d", orderID)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (t *pgTx) ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	return selectOrderLines(ctx, t.tx, orderID)
}

func selectOrderLines(ctx context.Context, q sqlx.QueryerContext, orderID int64) ([]models.OrderLine, error) {
	lines := []models.OrderLine{}
	err := sqlx.SelectContext(ctx, q, &lines,
		"SELECT id, order_id, sku_id, quantity, unit_price, subtotal FROM order_lines WHERE order_id = $1 ORDER BY id",
		orderID)
	return lines, err
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, orderID int64, status string, updatedBy *int64, reason *string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, updated_by = $2, cancel_reason = COALESCE($3, cancel_reason), updated_at = NOW()
		WHERE id = $4`,
		status, updatedBy, reason, orderID)
	return err
}

// GetCart retrieves a cart and its lines from one snapshot
func (s *PostgresStore) GetCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	var cart models.Cart
	err := s.readTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &cart, "SELECT "+cartColumns+" FROM carts WHERE id = $1", cartID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("cart %d", cartID)
		}
		if err != nil {
			return err
		}
		cart.Lines, err = selectCartLines(ctx, tx, cartID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// GetOrder retrieves an order with lines, shipping address and payment
func (s *PostgresStore) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var order models.Order
	err := s.readTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", orderID)
		if errors.Is(err, sql.ErrNoRows) {
			return apperr.NotFound("order %d", orderID)
		}
		if err != nil {
			return err
		}

		if order.Lines, err = selectOrderLines(ctx, tx, orderID); err != nil {
			return err
		}

		var shipping models.ShippingAddress
		err = tx.GetContext(ctx, &shipping, `
			SELECT id, order_id, recipient_name, phone, line1, line2, city, state, postal_code,
				country, created_at
			FROM shipping_addresses WHERE order_id = $1`, orderID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil {
			order.Shipping = &shipping
		}

		var payment models.PaymentRecord
		err = tx.GetContext(ctx, &payment,
			"SELECT id, order_id, mode, amount, status, reference, created_at FROM payments WHERE order_id = $1",
			orderID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		if err == nil {
			order.Payment = &payment
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByUser retrieves orders for a user, newest first
func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, classify(err)
	}
	return orders, nil
}
