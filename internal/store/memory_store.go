package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cart-service/internal/apperr"
	"cart-service/internal/models"

	"github.com/shopspring/decimal"
)

// MemoryStore implements Store in process memory. Transactions are fully
// serialized and work on a copy of the state that replaces the original
// only on commit, so a failed transaction leaves nothing behind.
type MemoryStore struct {
	sem         chan struct{}
	state       *memState
	lockTimeout time.Duration
}

type memState struct {
	seq        map[string]int64
	skus       map[int64]models.SKU
	carts      map[int64]models.Cart
	lines      map[int64]models.CartLine
	addresses  map[int64]models.Address
	orders     map[int64]models.Order
	orderLines map[int64]models.OrderLine
	shipping   map[int64]models.ShippingAddress // by order id
	payments   map[int64]models.PaymentRecord   // by order id
	processed  map[string]models.ProcessedEvent
}

// NewMemoryStore creates an empty in-memory store. A transaction waiting
// longer than lockTimeout for its turn fails with apperr.ErrBusy.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	if lockTimeout <= 0 {
		lockTimeout = 5 * time.Second
	}
	return &MemoryStore{
		sem:         make(chan struct{}, 1),
		lockTimeout: lockTimeout,
		state: &memState{
			seq:        map[string]int64{},
			skus:       map[int64]models.SKU{},
			carts:      map[int64]models.Cart{},
			lines:      map[int64]models.CartLine{},
			addresses:  map[int64]models.Address{},
			orders:     map[int64]models.Order{},
			orderLines: map[int64]models.OrderLine{},
			shipping:   map[int64]models.ShippingAddress{},
			payments:   map[int64]models.PaymentRecord{},
			processed:  map[string]models.ProcessedEvent{},
		},
	}
}

func (st *memState) clone() *memState {
	c := &memState{
		seq:        make(map[string]int64, len(st.seq)),
		skus:       make(map[int64]models.SKU, len(st.skus)),
		carts:      make(map[int64]models.Cart, len(st.carts)),
		lines:      make(map[int64]models.CartLine, len(st.lines)),
		addresses:  make(map[int64]models.Address, len(st.addresses)),
		orders:     make(map[int64]models.Order, len(st.orders)),
		orderLines: make(map[int64]models.OrderLine, len(st.orderLines)),
		shipping:   make(map[int64]models.ShippingAddress, len(st.shipping)),
		payments:   make(map[int64]models.PaymentRecord, len(st.payments)),
		processed:  make(map[string]models.ProcessedEvent, len(st.processed)),
	}
	for k, v := range st.seq {
		c.seq[k] = v
	}
	for k, v := range st.skus {
		c.skus[k] = v
	}
	for k, v := range st.carts {
		c.carts[k] = v
	}
	for k, v := range st.lines {
		c.lines[k] = v
	}
	for k, v := range st.addresses {
		c.addresses[k] = v
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.orderLines {
		c.orderLines[k] = v
	}
	for k, v := range st.shipping {
		c.shipping[k] = v
	}
	for k, v := range st.payments {
		c.payments[k] = v
	}
	for k, v := range st.processed {
		c.processed[k] = v
	}
	return c
}

func (st *memState) next(table string) int64 {
	st.seq[table]++
	return st.seq[table]
}

func (s *MemoryStore) acquire(ctx context.Context) error {
	timer := time.NewTimer(s.lockTimeout)
	defer timer.Stop()

	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return apperr.Busy(ctx.Err())
	case <-timer.C:
		return apperr.Busy(fmt.Errorf("lock wait exceeded %s", s.lockTimeout))
	}
}

func (s *MemoryStore) release() {
	<-s.sem
}

// WithTx runs fn against a private copy of the state and commits it on success
func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()

	work := s.state.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) read(ctx context.Context, fn func(st *memState) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer s.release()
	return fn(s.state)
}

// PutSKU inserts or replaces a SKU; a zero ID is assigned the next id
func (s *MemoryStore) PutSKU(sku models.SKU) models.SKU {
	s.sem <- struct{}{}
	defer s.release()

	if sku.ID == 0 {
		sku.ID = s.state.next("skus")
	} else if sku.ID > s.state.seq["skus"] {
		s.state.seq["skus"] = sku.ID
	}
	sku.UpdatedAt = time.Now()
	s.state.skus[sku.ID] = sku
	return sku
}

// PutAddress stores an address book entry for a user
func (s *MemoryStore) PutAddress(addr models.Address) models.Address {
	s.sem <- struct{}{}
	defer s.release()

	addr.ID = s.state.next("addresses")
	addr.CreatedAt = time.Now()
	s.state.addresses[addr.ID] = addr
	return addr
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// GetSKU retrieves a SKU by ID
func (s *MemoryStore) GetSKU(ctx context.Context, skuID int64) (*models.SKU, error) {
	var out *models.SKU
	err := s.read(ctx, func(st *memState) error {
		sku, ok := st.skus[skuID]
		if !ok {
			return apperr.NotFound("sku %d", skuID)
		}
		out = &sku
		return nil
	})
	return out, err
}

// GetCart retrieves a cart and its lines
func (s *MemoryStore) GetCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	var out *models.Cart
	err := s.read(ctx, func(st *memState) error {
		cart, ok := st.carts[cartID]
		if !ok {
			return apperr.NotFound("cart %d", cartID)
		}
		cart.Lines = st.cartLines(cartID)
		out = &cart
		return nil
	})
	return out, err
}

// GetOrder retrieves an order with lines, shipping address and payment
func (s *MemoryStore) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	var out *models.Order
	err := s.read(ctx, func(st *memState) error {
		order, ok := st.orders[orderID]
		if !ok {
			return apperr.NotFound("order %d", orderID)
		}
		order.Lines = st.orderLinesFor(orderID)
		if addr, ok := st.shipping[orderID]; ok {
			order.Shipping = &addr
		}
		if payment, ok := st.payments[orderID]; ok {
			order.Payment = &payment
		}
		out = &order
		return nil
	})
	return out, err
}

// ListOrdersByUser retrieves orders for a user, newest first
func (s *MemoryStore) ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.read(ctx, func(st *memState) error {
		for _, o := range st.orders {
			if o.UserID == userID {
				orders = append(orders, o)
			}
		}
		return nil
	})
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, err
}

func (st *memState) cartLines(cartID int64) []models.CartLine {
	lines := []models.CartLine{}
	for _, l := range st.lines {
		if l.CartID == cartID {
			l.UnitPrice = st.skus[l.SKUID].Price
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines
}

func (st *memState) orderLinesFor(orderID int64) []models.OrderLine {
	lines := []models.OrderLine{}
	for _, l := range st.orderLines {
		if l.OrderID == orderID {
			lines = append(lines, l)
		}
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ID < lines[j].ID })
	return lines
}

type memTx struct {
	st *memState
}

// LockActor is a no-op: memory transactions are already serialized
func (t *memTx) LockActor(ctx context.Context, key string) error {
	return nil
}

func (t *memTx) findCart(match func(c models.Cart) bool) *models.Cart {
	for _, c := range t.st.carts {
		if !c.CheckoutClosed && match(c) {
			cart := c
			return &cart
		}
	}
	return nil
}

func (t *memTx) FindOpenCartByUser(ctx context.Context, userID int64) (*models.Cart, error) {
	return t.findCart(func(c models.Cart) bool {
		return c.UserID != nil && *c.UserID == userID
	}), nil
}

func (t *memTx) FindOpenCartByDevice(ctx context.Context, deviceIP string) (*models.Cart, error) {
	return t.findCart(func(c models.Cart) bool {
		return c.UserID == nil && c.DeviceIP != nil && *c.DeviceIP == deviceIP
	}), nil
}

func (t *memTx) CreateCart(ctx context.Context, cart *models.Cart) error {
	if (cart.UserID == nil) == (cart.DeviceIP == nil) {
		return fmt.Errorf("cart must have exactly one owner")
	}

	var existing *models.Cart
	if cart.UserID != nil {
		existing, _ = t.FindOpenCartByUser(ctx, *cart.UserID)
	} else {
		existing, _ = t.FindOpenCartByDevice(ctx, *cart.DeviceIP)
	}
	if existing != nil {
		return apperr.Conflict("open cart already exists")
	}

	now := time.Now()
	cart.ID = t.st.next("carts")
	cart.TotalAmount = decimal.Zero
	cart.CheckoutClosed = false
	cart.CreatedAt = now
	cart.UpdatedAt = now
	stored := *cart
	stored.Lines = nil
	t.st.carts[cart.ID] = stored
	return nil
}

func (t *memTx) LockCart(ctx context.Context, cartID int64) (*models.Cart, error) {
	cart, ok := t.st.carts[cartID]
	if !ok {
		return nil, apperr.NotFound("cart %d", cartID)
	}
	return &cart, nil
}

func (t *memTx) DeleteCart(ctx context.Context, cartID int64) error {
	for id, l := range t.st.lines {
		if l.CartID == cartID {
			delete(t.st.lines, id)
		}
	}
	delete(t.st.carts, cartID)
	return nil
}

func (t *memTx) CloseCart(ctx context.Context, cartID int64) error {
	cart, ok := t.st.carts[cartID]
	if !ok {
		return apperr.NotFound("cart %d", cartID)
	}
	cart.CheckoutClosed = true
	cart.TotalAmount = decimal.Zero
	cart.UpdatedAt = time.Now()
	t.st.carts[cartID] = cart
	return nil
}

func (t *memTx) UpdateCartTotal(ctx context.Context, cartID int64, total decimal.Decimal) error {
	cart, ok := t.st.carts[cartID]
	if !ok {
		return apperr.NotFound("cart %d", cartID)
	}
	cart.TotalAmount = total
	cart.UpdatedAt = time.Now()
	t.st.carts[cartID] = cart
	return nil
}

func (t *memTx) ListCartLines(ctx context.Context, cartID int64) ([]models.CartLine, error) {
	return t.st.cartLines(cartID), nil
}

func (t *memTx) InsertCartLine(ctx context.Context, line *models.CartLine) error {
	for _, l := range t.st.lines {
		if l.CartID == line.CartID && l.SKUID == line.SKUID {
			return apperr.Conflict("cart %d already has a line for sku %d", line.CartID, line.SKUID)
		}
	}
	if line.Quantity < 1 {
		return fmt.Errorf("cart line quantity must be positive")
	}

	now := time.Now()
	line.ID = t.st.next("cart_lines")
	line.CreatedAt = now
	line.UpdatedAt = now
	t.st.lines[line.ID] = *line
	return nil
}

func (t *memTx) UpdateCartLineQuantity(ctx context.Context, lineID int64, quantity int) error {
	line, ok := t.st.lines[lineID]
	if !ok {
		return apperr.NotFound("cart line %d", lineID)
	}
	if quantity < 1 {
		return fmt.Errorf("cart line quantity must be positive")
	}
	line.Quantity = quantity
	line.UpdatedAt = time.Now()
	t.st.lines[lineID] = line
	return nil
}

func (t *memTx) DeleteCartLine(ctx context.Context, lineID int64) error {
	delete(t.st.lines, lineID)
	return nil
}

func (t *memTx) DeleteCartLines(ctx context.Context, cartID int64) error {
	for id, l := range t.st.lines {
		if l.CartID == cartID {
			delete(t.st.lines, id)
		}
	}
	return nil
}

func (t *memTx) LockSKUs(ctx context.Context, skuIDs []int64) (map[int64]*models.SKU, error) {
	result := make(map[int64]*models.SKU, len(skuIDs))
	for _, id := range uniqueSorted(skuIDs) {
		sku, ok := t.st.skus[id]
		if !ok {
			return nil, apperr.NotFound("sku %d", id)
		}
		result[id] = &sku
	}
	return result, nil
}

func (t *memTx) AdjustStock(ctx context.Context, skuID int64, delta int) error {
	sku, ok := t.st.skus[skuID]
	if !ok {
		return apperr.NotFound("sku %d", skuID)
	}
	if sku.Stock+delta < 0 {
		return fmt.Errorf("stock for sku %d would become negative", skuID)
	}
	sku.Stock += delta
	sku.UpdatedAt = time.Now()
	t.st.skus[skuID] = sku
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) (bool, error) {
	for _, o := range t.st.orders {
		if o.OrderNumber == order.OrderNumber {
			return false, nil
		}
	}

	now := time.Now()
	order.ID = t.st.next("orders")
	order.CreatedAt = now
	order.UpdatedAt = now
	stored := *order
	stored.Lines, stored.Shipping, stored.Payment = nil, nil, nil
	t.st.orders[order.ID] = stored
	return true, nil
}

func (t *memTx) InsertOrderLine(ctx context.Context, line *models.OrderLine) error {
	line.ID = t.st.next("order_lines")
	t.st.orderLines[line.ID] = *line
	return nil
}

func (t *memTx) UpdateOrderTotal(ctx context.Context, orderID int64, total decimal.Decimal) error {
	order, ok := t.st.orders[orderID]
	if !ok {
		return apperr.NotFound("order %d", orderID)
	}
	order.TotalAmount = total
	order.UpdatedAt = time.Now()
	t.st.orders[orderID] = order
	return nil
}

func (t *memTx) InsertShippingAddress(ctx context.Context, addr *models.ShippingAddress) error {
	if _, exists := t.st.shipping[addr.OrderID]; exists {
		return apperr.Conflict("order %d already has a shipping address", addr.OrderID)
	}
	addr.ID = t.st.next("shipping_addresses")
	addr.CreatedAt = time.Now()
	t.st.shipping[addr.OrderID] = *addr
	return nil
}

func (t *memTx) InsertPayment(ctx context.Context, payment *models.PaymentRecord) error {
	if _, exists := t.st.payments[payment.OrderID]; exists {
		return apperr.Conflict("order %d already has a payment", payment.OrderID)
	}
	payment.ID = t.st.next("payments")
	payment.CreatedAt = time.Now()
	t.st.payments[payment.OrderID] = *payment
	return nil
}

func (t *memTx) GetDefaultAddress(ctx context.Context, userID int64) (*models.Address, error) {
	var found *models.Address
	for _, a := range t.st.addresses {
		if a.UserID == userID && a.IsDefault && (found == nil || a.ID < found.ID) {
			addr := a
			found = &addr
		}
	}
	return found, nil
}

func (t *memTx) LockOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order, ok := t.st.orders[orderID]
	if !ok {
		return nil, apperr.NotFound("order %d", orderID)
	}
	return &order, nil
}

func (t *memTx) ListOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	return t.st.orderLinesFor(orderID), nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, orderID int64, status string, updatedBy *int64, reason *string) error {
	order, ok := t.st.orders[orderID]
	if !ok {
		return apperr.NotFound("order %d", orderID)
	}
	order.Status = status
	order.UpdatedBy = updatedBy
	if reason != nil {
		order.CancelReason = reason
	}
	order.UpdatedAt = time.Now()
	t.st.orders[orderID] = order
	return nil
}

func (t *memTx) MarkEventProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	if _, ok := t.st.processed[eventID]; ok {
		return false, nil
	}
	t.st.processed[eventID] = models.ProcessedEvent{
		EventID:     eventID,
		EventType:   eventType,
		ProcessedAt: time.Now(),
	}
	return true, nil
}
