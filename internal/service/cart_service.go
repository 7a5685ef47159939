package service

import (
	"context"
	"errors"

	"cart-service/internal/apperr"
	"cart-service/internal/auth"
	"cart-service/internal/models"
	"cart-service/internal/store"
	"cart-service/internal/util"

	"go.uber.org/zap"
)

// ResolveOutcome tells the boundary layer how a cart was obtained
type ResolveOutcome int

const (
	CartCreated ResolveOutcome = iota
	CartFetched
	CartMerged
)

func (o ResolveOutcome) String() string {
	switch o {
	case CartCreated:
		return "created"
	case CartFetched:
		return "fetched"
	case CartMerged:
		return "merged"
	default:
		return "unknown"
	}
}

// CartService resolves carts for actors and mutates their lines
type CartService struct {
	store     store.Store
	merger    MergeEngine
	publisher EventPublisher
	logger    *zap.Logger
}

// NewCartService creates a new cart service
func NewCartService(store store.Store, publisher EventPublisher) *CartService {
	return &CartService{
		store:     store,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// ResolveOrCreateCart returns the actor's open cart. An authenticated actor
// without a cart absorbs the open guest cart of its current device, if any.
// The lookup, creation and merge run in one transaction serialized per actor.
func (s *CartService) ResolveOrCreateCart(ctx context.Context, actor auth.Actor) (*models.Cart, ResolveOutcome, error) {
	ctx, span := util.StartSpan(ctx, "CartService.ResolveOrCreateCart")
	var err error
	defer func() { util.EndSpan(span, err) }()

	var (
		cart    *models.Cart
		outcome ResolveOutcome
		merged  *models.CartMergedEvent
	)

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		cart, outcome, merged = nil, CartFetched, nil

		if err := tx.LockActor(ctx, actor.Key()); err != nil {
			return err
		}

		if !actor.IsAuthenticated() {
			found, err := tx.FindOpenCartByDevice(ctx, actor.DeviceIP)
			if err != nil {
				return err
			}
			if found == nil {
				deviceIP := actor.DeviceIP
				found = &models.Cart{DeviceIP: &deviceIP}
				if err := tx.CreateCart(ctx, found); err != nil {
					return err
				}
				outcome = CartCreated
			}
			cart = found
			return s.loadLines(ctx, tx, cart)
		}

		userID := *actor.UserID
		found, err := tx.FindOpenCartByUser(ctx, userID)
		if err != nil {
			return err
		}
		if found != nil {
			cart = found
			return s.loadLines(ctx, tx, cart)
		}

		if err := tx.LockActor(ctx, auth.Guest(actor.DeviceIP).Key()); err != nil {
			return err
		}
		guest, err := tx.FindOpenCartByDevice(ctx, actor.DeviceIP)
		if err != nil {
			return err
		}

		cart = &models.Cart{UserID: &userID}
		if err := tx.CreateCart(ctx, cart); err != nil {
			return err
		}

		if guest == nil {
			outcome = CartCreated
			return s.loadLines(ctx, tx, cart)
		}

		n, err := s.merger.Merge(ctx, tx, guest, cart)
		if err != nil {
			return err
		}
		outcome = CartMerged
		merged = &models.CartMergedEvent{
			BaseEvent:    newBaseEvent(models.EventTypeCartMerged),
			SourceCartID: guest.ID,
			TargetCartID: cart.ID,
			UserID:       userID,
			LinesMerged:  n,
		}
		return nil
	})
	if err != nil {
		s.recordMergeFailure(err)
		return nil, 0, err
	}

	util.CartsResolvedTotal.WithLabelValues(outcome.String()).Inc()
	switch outcome {
	case CartCreated:
		s.logger.Info("Cart created", zap.Int64("cart_id", cart.ID), zap.Bool("guest", cart.IsGuest()))
		logPublishError(s.logger, models.EventTypeCartCreated, s.publisher.PublishCartCreated(ctx, &models.CartCreatedEvent{
			BaseEvent: newBaseEvent(models.EventTypeCartCreated),
			CartID:    cart.ID,
			UserID:    cart.UserID,
			DeviceIP:  actor.DeviceIP,
		}))
	case CartMerged:
		util.CartMergesTotal.WithLabelValues("merged").Inc()
		s.logger.Info("Guest cart merged",
			zap.Int64("source_cart_id", merged.SourceCartID),
			zap.Int64("target_cart_id", merged.TargetCartID))
		logPublishError(s.logger, models.EventTypeCartMerged, s.publisher.PublishCartMerged(ctx, merged))
	}

	return cart, outcome, nil
}

// MergeDeviceCart merges the open guest cart of the actor's device into the
// actor's open user cart.
func (s *CartService) MergeDeviceCart(ctx context.Context, actor auth.Actor) (*models.Cart, error) {
	ctx, span := util.StartSpan(ctx, "CartService.MergeDeviceCart")
	var err error
	defer func() { util.EndSpan(span, err) }()

	if !actor.IsAuthenticated() {
		err = apperr.PermissionDenied("merging requires an authenticated user")
		return nil, err
	}
	userID := *actor.UserID

	var (
		target *models.Cart
		event  *models.CartMergedEvent
	)
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.LockActor(ctx, actor.Key()); err != nil {
			return err
		}
		if err := tx.LockActor(ctx, auth.Guest(actor.DeviceIP).Key()); err != nil {
			return err
		}

		user, err := tx.FindOpenCartByUser(ctx, userID)
		if err != nil {
			return err
		}
		if user == nil {
			return apperr.NotFound("no open cart for user %d", userID)
		}
		guest, err := tx.FindOpenCartByDevice(ctx, actor.DeviceIP)
		if err != nil {
			return err
		}
		if guest == nil {
			return apperr.NotFound("no guest cart for device %s", actor.DeviceIP)
		}

		n, err := s.merger.Merge(ctx, tx, guest, user)
		if err != nil {
			return err
		}
		target = user
		event = &models.CartMergedEvent{
			BaseEvent:    newBaseEvent(models.EventTypeCartMerged),
			SourceCartID: guest.ID,
			TargetCartID: user.ID,
			UserID:       userID,
			LinesMerged:  n,
		}
		return nil
	})
	if err != nil {
		s.recordMergeFailure(err)
		return nil, err
	}

	util.CartMergesTotal.WithLabelValues("merged").Inc()
	s.logger.Info("Guest cart merged",
		zap.Int64("source_cart_id", event.SourceCartID),
		zap.Int64("target_cart_id", event.TargetCartID))
	logPublishError(s.logger, models.EventTypeCartMerged, s.publisher.PublishCartMerged(ctx, event))
	return target, nil
}

func (s *CartService) recordMergeFailure(err error) {
	if errors.Is(err, apperr.ErrInsufficientStock) {
		util.CartMergesTotal.WithLabelValues("rejected").Inc()
		util.StockRejectionsTotal.WithLabelValues("merge").Inc()
	}
}

func (s *CartService) loadLines(ctx context.Context, tx store.Tx, cart *models.Cart) error {
	lines, err := tx.ListCartLines(ctx, cart.ID)
	if err != nil {
		return err
	}
	cart.Lines = lines
	return nil
}

// GetCart returns a cart snapshot. Reads are not restricted to the owner.
func (s *CartService) GetCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	return s.store.GetCart(ctx, cartID)
}

// mutate locks the cart, checks ownership and open state, applies fn and
// recomputes the stored total before commit
func (s *CartService) mutate(ctx context.Context, actor auth.Actor, cartID int64, op string,
	fn func(tx store.Tx, cart *models.Cart) error) (*models.Cart, error) {

	ctx, span := util.StartSpan(ctx, "CartService."+op)
	var result *models.Cart
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		cart, err := tx.LockCart(ctx, cartID)
		if err != nil {
			return err
		}
		if err := authorizeCartMutation(actor, cart); err != nil {
			return err
		}
		if cart.CheckoutClosed {
			return apperr.InvalidState("cart %d is checked out", cart.ID)
		}

		if err := fn(tx, cart); err != nil {
			return err
		}
		if err := recalculateCart(ctx, tx, cart); err != nil {
			return err
		}
		result = cart
		return nil
	})
	util.EndSpan(span, err)

	if err != nil {
		if errors.Is(err, apperr.ErrInsufficientStock) {
			util.StockRejectionsTotal.WithLabelValues(op).Inc()
		}
		return nil, err
	}

	util.CartLineMutationsTotal.WithLabelValues(op).Inc()
	return result, nil
}

// AddLine adds quantity of a SKU to the cart, folding into an existing line
// for the same SKU. The combined quantity may not exceed current stock.
func (s *CartService) AddLine(ctx context.Context, actor auth.Actor, cartID, skuID int64, quantity int) (*models.Cart, error) {
	if quantity < 1 {
		return nil, apperr.InvalidQuantity("quantity must be at least 1, got %d", quantity)
	}

	return s.mutate(ctx, actor, cartID, "add_line", func(tx store.Tx, cart *models.Cart) error {
		skus, err := tx.LockSKUs(ctx, []int64{skuID})
		if err != nil {
			return err
		}
		sku := skus[skuID]
		if quantity > sku.Stock {
			return apperr.InsufficientStock(sku.ID, sku.Stock, quantity)
		}

		lines, err := tx.ListCartLines(ctx, cart.ID)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if l.SKUID != skuID {
				continue
			}
			newTotal := l.Quantity + quantity
			if newTotal > sku.Stock {
				return apperr.InsufficientStock(sku.ID, sku.Stock, newTotal)
			}
			return tx.UpdateCartLineQuantity(ctx, l.ID, newTotal)
		}

		return tx.InsertCartLine(ctx, &models.CartLine{CartID: cart.ID, SKUID: skuID, Quantity: quantity})
	})
}

// UpdateLine sets a line's quantity; zero deletes the line
func (s *CartService) UpdateLine(ctx context.Context, actor auth.Actor, cartID, lineID int64, quantity int) (*models.Cart, error) {
	if quantity < 0 {
		return nil, apperr.InvalidQuantity("quantity must not be negative, got %d", quantity)
	}

	return s.mutate(ctx, actor, cartID, "update_line", func(tx store.Tx, cart *models.Cart) error {
		line, err := findLine(ctx, tx, cart.ID, lineID)
		if err != nil {
			return err
		}
		if quantity == 0 {
			return tx.DeleteCartLine(ctx, line.ID)
		}

		skus, err := tx.LockSKUs(ctx, []int64{line.SKUID})
		if err != nil {
			return err
		}
		sku := skus[line.SKUID]
		if quantity > sku.Stock {
			return apperr.InsufficientStock(sku.ID, sku.Stock, quantity)
		}
		return tx.UpdateCartLineQuantity(ctx, line.ID, quantity)
	})
}

// RemoveLine deletes a line from the cart
func (s *CartService) RemoveLine(ctx context.Context, actor auth.Actor, cartID, lineID int64) (*models.Cart, error) {
	return s.mutate(ctx, actor, cartID, "remove_line", func(tx store.Tx, cart *models.Cart) error {
		line, err := findLine(ctx, tx, cart.ID, lineID)
		if err != nil {
			return err
		}
		return tx.DeleteCartLine(ctx, line.ID)
	})
}

// Clear deletes every line of the cart
func (s *CartService) Clear(ctx context.Context, actor auth.Actor, cartID int64) (*models.Cart, error) {
	return s.mutate(ctx, actor, cartID, "clear", func(tx store.Tx, cart *models.Cart) error {
		return tx.DeleteCartLines(ctx, cart.ID)
	})
}

func findLine(ctx context.Context, tx store.Tx, cartID, lineID int64) (*models.CartLine, error) {
	lines, err := tx.ListCartLines(ctx, cartID)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		if lines[i].ID == lineID {
			return &lines[i], nil
		}
	}
	return nil, apperr.NotFound("line %d in cart %d", lineID, cartID)
}
