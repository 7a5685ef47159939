package service

import (
	"context"

	"cart-service/internal/apperr"
	"cart-service/internal/models"
	"cart-service/internal/store"
)

// MergeEngine folds a guest cart into a user cart.
//
// Conflicts are rejected, never clamped: if any resulting line would exceed
// the SKU's current stock the whole merge fails with a StockError and the
// caller's transaction rolls back, leaving both carts untouched.
type MergeEngine struct{}

// Merge moves every line of source into target inside tx and deletes
// source. Both carts must already be locked by tx. It returns the number of
// source lines merged.
func (MergeEngine) Merge(ctx context.Context, tx store.Tx, source, target *models.Cart) (int, error) {
	if source.ID == target.ID {
		return 0, apperr.InvalidState("cannot merge cart %d into itself", source.ID)
	}
	if !source.IsGuest() {
		return 0, apperr.InvalidState("cart %d is not a guest cart", source.ID)
	}
	if source.CheckoutClosed || target.CheckoutClosed {
		return 0, apperr.InvalidState("cannot merge closed carts")
	}

	sourceLines, err := tx.ListCartLines(ctx, source.ID)
	if err != nil {
		return 0, err
	}
	targetLines, err := tx.ListCartLines(ctx, target.ID)
	if err != nil {
		return 0, err
	}

	skus, err := tx.LockSKUs(ctx, skuIDs(sourceLines))
	if err != nil {
		return 0, err
	}

	existing := make(map[int64]models.CartLine, len(targetLines))
	for _, l := range targetLines {
		existing[l.SKUID] = l
	}

	// sourceLines come back in insertion (id) order
	for _, line := range sourceLines {
		sku := skus[line.SKUID]

		if current, ok := existing[line.SKUID]; ok {
			candidate := current.Quantity + line.Quantity
			if candidate > sku.Stock {
				return 0, apperr.InsufficientStock(sku.ID, sku.Stock, candidate)
			}
			if err := tx.UpdateCartLineQuantity(ctx, current.ID, candidate); err != nil {
				return 0, err
			}
			current.Quantity = candidate
			existing[line.SKUID] = current
			continue
		}

		if line.Quantity > sku.Stock {
			return 0, apperr.InsufficientStock(sku.ID, sku.Stock, line.Quantity)
		}
		moved := &models.CartLine{CartID: target.ID, SKUID: line.SKUID, Quantity: line.Quantity}
		if err := tx.InsertCartLine(ctx, moved); err != nil {
			return 0, err
		}
		existing[line.SKUID] = *moved
	}

	if err := tx.DeleteCart(ctx, source.ID); err != nil {
		return 0, err
	}

	if err := recalculateCart(ctx, tx, target); err != nil {
		return 0, err
	}
	return len(sourceLines), nil
}
