package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error categories surfaced by the cart and order core
var (
	ErrInvalidQuantity   = errors.New("invalid quantity")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("not found")
	ErrPermissionDenied  = errors.New("permission denied")
	ErrInvalidState      = errors.New("invalid state")
	ErrOrderIDCollision  = errors.New("order id collision")
	ErrConflict          = errors.New("conflict")
	ErrBusy              = errors.New("resource busy")
)

// StockError reports a rejected stock check for a single SKU
type StockError struct {
	SKUID     int64
	Available int
	Requested int
}

func (e *StockError) Error() string {
	return fmt.Sprintf("insufficient stock for sku %d: available=%d, requested=%d",
		e.SKUID, e.Available, e.Requested)
}

// Is lets errors.Is(err, ErrInsufficientStock) match a StockError
func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// InsufficientStock builds a StockError
func InsufficientStock(skuID int64, available, requested int) error {
	return &StockError{SKUID: skuID, Available: available, Requested: requested}
}

func InvalidQuantity(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidQuantity, fmt.Sprintf(format, args...))
}

func NotFound(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func PermissionDenied(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrPermissionDenied, fmt.Sprintf(format, args...))
}

func InvalidState(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidState, fmt.Sprintf(format, args...))
}

func Conflict(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// Busy wraps a lock-wait or timeout failure from the store
func Busy(err error) error {
	return fmt.Errorf("%w: %v", ErrBusy, err)
}

// HTTPStatus maps an error to the status code the boundary layer returns.
// Errors outside the taxonomy map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInsufficientStock),
		errors.Is(err, ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Code returns a stable machine-readable code for API responses
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuantity):
		return "INVALID_QUANTITY"
	case errors.Is(err, ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrPermissionDenied):
		return "PERMISSION_DENIED"
	case errors.Is(err, ErrConflict):
		return "CONFLICT"
	case errors.Is(err, ErrBusy):
		return "BUSY"
	case errors.Is(err, ErrOrderIDCollision):
		return "ORDER_ID_COLLISION"
	default:
		return "INTERNAL"
	}
}

// Retryable reports whether the caller may safely retry the request
func Retryable(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, ErrConflict)
}
