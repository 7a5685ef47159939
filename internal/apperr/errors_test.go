package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStockErrorMatchesSentinel(t *testing.T) {
	err := fmt.Errorf("add line: %w", InsufficientStock(7, 2, 5))

	assert.True(t, errors.Is(err, ErrInsufficientStock))

	var stockErr *StockError
	assert.True(t, errors.As(err, &stockErr))
	assert.Equal(t, int64(7), stockErr.SKUID)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{InvalidQuantity("quantity %d", 0), http.StatusBadRequest},
		{InsufficientStock(1, 0, 1), http.StatusBadRequest},
		{InvalidState("cart %d closed", 3), http.StatusBadRequest},
		{NotFound("cart %d", 3), http.StatusNotFound},
		{PermissionDenied("not owner"), http.StatusForbidden},
		{Conflict("duplicate cart"), http.StatusConflict},
		{Busy(errors.New("lock timeout")), http.StatusServiceUnavailable},
		{ErrOrderIDCollision, http.StatusInternalServerError},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, HTTPStatus(tc.err), tc.err.Error())
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(Busy(errors.New("lock timeout"))))
	assert.True(t, Retryable(Conflict("duplicate")))
	assert.False(t, Retryable(InsufficientStock(1, 0, 1)))
}
