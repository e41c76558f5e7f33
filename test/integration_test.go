//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/ecrodrig/storefront/internal/auth"
	"github.com/ecrodrig/storefront/internal/cart"
	"github.com/ecrodrig/storefront/internal/catalog"
	"github.com/ecrodrig/storefront/internal/checkout"
	"github.com/ecrodrig/storefront/internal/domain"
	"github.com/ecrodrig/storefront/internal/messaging"
	"github.com/ecrodrig/storefront/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newUser(ctx context.Context, t *testing.T, users *auth.UserRepository, name, email string) *domain.User {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}

	user, err := users.Create(ctx, name, email, string(hash))
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func newProduct(ctx context.Context, t *testing.T, products *catalog.ProductRepository, name, price string, stock int) *domain.Product {
	t.Helper()

	product, err := products.Create(ctx, name, "", decimal.RequireFromString(price), stock)
	if err != nil {
		t.Fatalf("failed to create product: %v", err)
	}
	return product
}

func fillCart(ctx context.Context, t *testing.T, carts *cart.CartRepository, userID, productID string, qty int) {
	t.Helper()

	item, err := carts.Add(ctx, userID, productID)
	if err != nil {
		t.Fatalf("failed to add to cart: %v", err)
	}
	if qty > 1 {
		if _, err := carts.UpdateQuantity(ctx, userID, item.ID, qty); err != nil {
			t.Fatalf("failed to set cart quantity: %v", err)
		}
	}
}

func TestCheckoutSnapshotsPricesAndClearsCart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)

	users := auth.NewUserRepository(db)
	products := catalog.NewProductRepository(db)
	carts := cart.NewCartRepository(db)
	orders := checkout.NewOrderRepository(db)

	user := newUser(ctx, t, users, "Ada", "ada@example.com")
	p1 := newProduct(ctx, t, products, "Wireless Mouse", "10.00", 5)
	p2 := newProduct(ctx, t, products, "USB-C Cable", "5.00", 3)

	fillCart(ctx, t, carts, user.ID, p1.ID, 2)
	fillCart(ctx, t, carts, user.ID, p2.ID, 1)

	handler := checkout.NewHandler(orders, users, nil, nil, discardLogger())

	req := httptest.NewRequest(http.MethodPost, "/checkout", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: user.ID}))
	rec := httptest.NewRecorder()
	handler.HandleCheckout(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var placed domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&placed); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}

	if placed.Status != domain.OrderStatusPlaced {
		t.Fatalf("expected status %s, got %s", domain.OrderStatusPlaced, placed.Status)
	}
	if len(placed.Items) != 2 {
		t.Fatalf("expected 2 order items, got %d", len(placed.Items))
	}
	if !placed.Total.Equal(decimal.RequireFromString("25.00")) {
		t.Fatalf("expected total 25.00, got %s", placed.Total)
	}

	// Stock decremented by the ordered quantities.
	for _, tc := range []struct {
		id   string
		want int
	}{{p1.ID, 3}, {p2.ID, 2}} {
		product, err := products.GetByID(ctx, tc.id)
		if err != nil {
			t.Fatalf("failed to get product: %v", err)
		}
		if product.Stock != tc.want {
			t.Fatalf("expected stock %d for product %s, got %d", tc.want, tc.id, product.Stock)
		}
	}

	// Cart is empty.
	afterCart, err := carts.List(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed to list cart: %v", err)
	}
	if len(afterCart.Lines) != 0 {
		t.Fatalf("expected empty cart, got %d lines", len(afterCart.Lines))
	}

	// Price snapshots survive a later catalog price change.
	if _, err := products.Update(ctx, p1.ID, p1.Name, "", decimal.RequireFromString("12.00"), 3); err != nil {
		t.Fatalf("failed to update product price: %v", err)
	}

	reloaded, err := orders.GetByID(ctx, placed.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	for _, item := range reloaded.Items {
		var want string
		switch item.ProductName {
		case "Wireless Mouse":
			want = "10.00"
		case "USB-C Cable":
			want = "5.00"
		default:
			t.Fatalf("unexpected order item: %s", item.ProductName)
		}
		if !item.PriceEach.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("expected %s price_each %s, got %s", item.ProductName, want, item.PriceEach)
		}
	}
}

func TestCheckoutEmptyCart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)

	users := auth.NewUserRepository(db)
	orders := checkout.NewOrderRepository(db)

	user := newUser(ctx, t, users, "Ada", "ada@example.com")

	_, err := orders.PlaceOrder(ctx, user.ID)
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}

	own, err := orders.ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(own) != 0 {
		t.Fatalf("expected no orders, got %d", len(own))
	}
}

func TestCheckoutInsufficientStockLeavesStoreUnchanged(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)

	users := auth.NewUserRepository(db)
	products := catalog.NewProductRepository(db)
	carts := cart.NewCartRepository(db)
	orders := checkout.NewOrderRepository(db)

	user := newUser(ctx, t, users, "Ada", "ada@example.com")
	plenty := newProduct(ctx, t, products, "USB-C Cable", "4.99", 100)
	scarce := newProduct(ctx, t, products, "Laptop Stand", "19.99", 1)

	fillCart(ctx, t, carts, user.ID, plenty.ID, 2)
	fillCart(ctx, t, carts, user.ID, scarce.ID, 3)

	_, err := orders.PlaceOrder(ctx, user.ID)
	var noStock *domain.InsufficientStockError
	if !errors.As(err, &noStock) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if noStock.ProductID != scarce.ID {
		t.Fatalf("expected offending product %s, got %s", scarce.ID, noStock.ProductID)
	}

	// No order, no stock decrement, cart intact — even for the line that
	// individually had enough stock.
	own, err := orders.ListByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(own) != 0 {
		t.Fatalf("expected no orders, got %d", len(own))
	}

	reloaded, err := products.GetByID(ctx, plenty.ID)
	if err != nil {
		t.Fatalf("failed to get product: %v", err)
	}
	if reloaded.Stock != 100 {
		t.Fatalf("expected stock 100, got %d", reloaded.Stock)
	}

	afterCart, err := carts.List(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed to list cart: %v", err)
	}
	if len(afterCart.Lines) != 2 {
		t.Fatalf("expected cart intact with 2 lines, got %d", len(afterCart.Lines))
	}
}

func TestConcurrentCheckoutsForLastUnits(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)

	users := auth.NewUserRepository(db)
	products := catalog.NewProductRepository(db)
	carts := cart.NewCartRepository(db)
	orders := checkout.NewOrderRepository(db)

	product := newProduct(ctx, t, products, "Laptop Stand", "19.99", 5)

	userA := newUser(ctx, t, users, "Ada", "ada@example.com")
	userB := newUser(ctx, t, users, "Ben", "ben@example.com")
	fillCart(ctx, t, carts, userA.ID, product.ID, 3)
	fillCart(ctx, t, carts, userB.ID, product.ID, 3)

	results := make([]error, 2)
	var wg sync.WaitGroup
	for i, userID := range []string{userA.ID, userB.ID} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = orders.PlaceOrder(ctx, userID)
		}()
	}
	wg.Wait()

	var succeeded, outOfStock int
	for _, err := range results {
		var noStock *domain.InsufficientStockError
		switch {
		case err == nil:
			succeeded++
		case errors.As(err, &noStock):
			outOfStock++
		default:
			t.Fatalf("unexpected checkout error: %v", err)
		}
	}

	if succeeded != 1 || outOfStock != 1 {
		t.Fatalf("expected exactly one success and one stock failure, got %d/%d", succeeded, outOfStock)
	}

	reloaded, err := products.GetByID(ctx, product.ID)
	if err != nil {
		t.Fatalf("failed to get product: %v", err)
	}
	if reloaded.Stock != 2 {
		t.Fatalf("expected final stock 2, got %d", reloaded.Stock)
	}
}

func TestCartOwnershipAndIdempotentRemove(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)

	users := auth.NewUserRepository(db)
	products := catalog.NewProductRepository(db)
	carts := cart.NewCartRepository(db)

	owner := newUser(ctx, t, users, "Ada", "ada@example.com")
	intruder := newUser(ctx, t, users, "Ben", "ben@example.com")
	product := newProduct(ctx, t, products, "Wireless Mouse", "12.99", 10)

	item, err := carts.Add(ctx, owner.ID, product.ID)
	if err != nil {
		t.Fatalf("failed to add to cart: %v", err)
	}

	// Repeat add increments the same line.
	again, err := carts.Add(ctx, owner.ID, product.ID)
	if err != nil {
		t.Fatalf("failed to add to cart again: %v", err)
	}
	if again.ID != item.ID || again.Qty != 2 {
		t.Fatalf("expected same line with qty 2, got id=%s qty=%d", again.ID, again.Qty)
	}

	// Foreign update is rejected without mutating.
	if _, err := carts.UpdateQuantity(ctx, intruder.ID, item.ID, 99); !errors.Is(err, domain.ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}

	// Foreign remove is a silent no-op.
	if err := carts.Remove(ctx, intruder.ID, item.ID); err != nil {
		t.Fatalf("foreign remove should be a no-op, got %v", err)
	}

	ownerCart, err := carts.List(ctx, owner.ID)
	if err != nil {
		t.Fatalf("failed to list cart: %v", err)
	}
	if len(ownerCart.Lines) != 1 || ownerCart.Lines[0].Qty != 2 {
		t.Fatalf("expected owner cart untouched, got %+v", ownerCart.Lines)
	}

	// Quantity is clamped to a minimum of 1.
	updated, err := carts.UpdateQuantity(ctx, owner.ID, item.ID, 0)
	if err != nil {
		t.Fatalf("failed to update quantity: %v", err)
	}
	if updated.Qty != 1 {
		t.Fatalf("expected qty clamped to 1, got %d", updated.Qty)
	}

	// Removing twice yields no error the second time.
	if err := carts.Remove(ctx, owner.ID, item.ID); err != nil {
		t.Fatalf("failed to remove cart item: %v", err)
	}
	if err := carts.Remove(ctx, owner.ID, item.ID); err != nil {
		t.Fatalf("second remove should be a no-op, got %v", err)
	}
}

func TestRegistrationDuplicateEmailAndCaseInsensitiveLogin(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)

	users := auth.NewUserRepository(db)
	tokens := auth.NewTokenManager([]byte("test-secret"), time.Hour)
	handler := auth.NewHandler(users, tokens, discardLogger())

	register := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(body))
		rec := httptest.NewRecorder()
		handler.HandleRegister(rec, req)
		return rec
	}

	rec := register(`{"name": "Ada", "email": "Ada@Example.com", "password": "hunter2222"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	rec = register(`{"name": "Imposter", "email": "ADA@EXAMPLE.COM", "password": "other"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d for duplicate email, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email": "aDa@exAmple.Com", "password": "hunter2222"}`))
	rec = httptest.NewRecorder()
	handler.HandleLogin(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var resp struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode login response: %v", err)
	}

	identity, err := tokens.Parse(resp.Token)
	if err != nil {
		t.Fatalf("failed to parse issued token: %v", err)
	}
	if identity.Admin {
		t.Fatal("freshly registered user must not be admin")
	}

	req = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email": "ada@example.com", "password": "wrong"}`))
	rec = httptest.NewRecorder()
	handler.HandleLogin(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d for bad password, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestOrderStatusStateMachine(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)

	users := auth.NewUserRepository(db)
	products := catalog.NewProductRepository(db)
	carts := cart.NewCartRepository(db)
	orders := checkout.NewOrderRepository(db)

	user := newUser(ctx, t, users, "Ada", "ada@example.com")
	product := newProduct(ctx, t, products, "Wireless Mouse", "12.99", 10)
	fillCart(ctx, t, carts, user.ID, product.ID, 1)

	placed, err := orders.PlaceOrder(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed to place order: %v", err)
	}

	var invalid *domain.InvalidTransitionError

	// placed cannot jump straight to delivered.
	if _, err := orders.UpdateStatus(ctx, placed.ID, domain.OrderStatusDelivered); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}

	// Arbitrary strings are rejected.
	if _, err := orders.UpdateStatus(ctx, placed.ID, domain.OrderStatus("Refunded")); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError for unknown status, got %v", err)
	}

	shipped, err := orders.UpdateStatus(ctx, placed.ID, domain.OrderStatusShipped)
	if err != nil {
		t.Fatalf("failed to ship order: %v", err)
	}
	if shipped.Status != domain.OrderStatusShipped {
		t.Fatalf("expected status shipped, got %s", shipped.Status)
	}

	delivered, err := orders.UpdateStatus(ctx, placed.ID, domain.OrderStatusDelivered)
	if err != nil {
		t.Fatalf("failed to deliver order: %v", err)
	}
	if delivered.Status != domain.OrderStatusDelivered {
		t.Fatalf("expected status delivered, got %s", delivered.Status)
	}

	// delivered is terminal.
	if _, err := orders.UpdateStatus(ctx, placed.ID, domain.OrderStatusCancelled); !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError from terminal state, got %v", err)
	}

	// Unknown order id.
	missing, err := orders.UpdateStatus(ctx, "00000000-0000-0000-0000-000000000000", domain.OrderStatusShipped)
	if err != nil {
		t.Fatalf("unexpected error for missing order: %v", err)
	}
	if missing != nil {
		t.Fatal("expected nil order for missing id")
	}
}

func TestProductDeleteKeepsOrderHistoryReadable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)

	users := auth.NewUserRepository(db)
	products := catalog.NewProductRepository(db)
	carts := cart.NewCartRepository(db)
	orders := checkout.NewOrderRepository(db)

	user := newUser(ctx, t, users, "Ada", "ada@example.com")
	product := newProduct(ctx, t, products, "Laptop Stand", "19.99", 5)
	fillCart(ctx, t, carts, user.ID, product.ID, 2)

	placed, err := orders.PlaceOrder(ctx, user.ID)
	if err != nil {
		t.Fatalf("failed to place order: %v", err)
	}

	deleted, err := products.Delete(ctx, product.ID)
	if err != nil {
		t.Fatalf("failed to delete product: %v", err)
	}
	if !deleted {
		t.Fatal("expected product to be deleted")
	}

	reloaded, err := orders.GetByID(ctx, placed.ID)
	if err != nil {
		t.Fatalf("failed to reload order: %v", err)
	}
	if len(reloaded.Items) != 1 {
		t.Fatalf("expected 1 order item, got %d", len(reloaded.Items))
	}

	item := reloaded.Items[0]
	if item.ProductID != "" {
		t.Fatalf("expected detached product reference, got %s", item.ProductID)
	}
	if item.ProductName != "Laptop Stand" {
		t.Fatalf("expected snapshotted name, got %s", item.ProductName)
	}
	if !item.PriceEach.Equal(decimal.RequireFromString("19.99")) {
		t.Fatalf("expected snapshotted price 19.99, got %s", item.PriceEach)
	}
}

func TestAdminOrderListingIncludesCustomer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pg := SetupPostgres(ctx, t)
	defer pg.Cleanup()
	db := OpenDB(t, pg.ConnStr)

	users := auth.NewUserRepository(db)
	products := catalog.NewProductRepository(db)
	carts := cart.NewCartRepository(db)
	orders := checkout.NewOrderRepository(db)

	user := newUser(ctx, t, users, "Ada", "ada@example.com")
	product := newProduct(ctx, t, products, "USB-C Cable", "4.99", 50)
	fillCart(ctx, t, carts, user.ID, product.ID, 3)

	if _, err := orders.PlaceOrder(ctx, user.ID); err != nil {
		t.Fatalf("failed to place order: %v", err)
	}

	all, err := orders.ListAll(ctx)
	if err != nil {
		t.Fatalf("failed to list all orders: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 order, got %d", len(all))
	}

	order := all[0]
	if order.CustomerName != "Ada" || order.CustomerEmail != "ada@example.com" {
		t.Fatalf("expected customer info on admin listing, got %q/%q", order.CustomerName, order.CustomerEmail)
	}
	if len(order.Items) != 1 || order.Items[0].Qty != 3 {
		t.Fatalf("expected items attached to admin listing, got %+v", order.Items)
	}
}

func TestOrderPlacedEventRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	producer := messaging.NewProducer(brokers, "order.placed")
	defer func() { _ = producer.Close() }()

	event := domain.OrderPlacedEvent{
		OrderID:       "order-1",
		UserID:        "user-1",
		CustomerEmail: "ada@example.com",
		Items: []domain.OrderItem{
			{ProductName: "Wireless Mouse", Qty: 2, PriceEach: decimal.RequireFromString("12.99")},
		},
		Total:     decimal.RequireFromString("25.98"),
		Timestamp: time.Now().UTC(),
	}

	if err := producer.Publish(ctx, event.OrderID, event); err != nil {
		t.Fatalf("failed to publish event: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, "order.placed", "test-group",
		messaging.WithStartOffset(kafkago.FirstOffset),
	)
	defer func() { _ = consumer.Close() }()

	type sent struct {
		to      string
		subject string
	}
	received := make(chan sent, 1)

	sender := senderFunc(func(ctx context.Context, to, subject, body string) error {
		received <- sent{to: to, subject: subject}
		return nil
	})
	handler := notify.NewConfirmationHandler(sender, discardLogger())

	consumeCtx, stopConsuming := context.WithCancel(ctx)
	defer stopConsuming()

	go func() {
		_ = consumer.Consume(consumeCtx, handler.Handle)
	}()

	select {
	case got := <-received:
		if got.to != "ada@example.com" {
			t.Fatalf("unexpected recipient: %s", got.to)
		}
		if !strings.Contains(got.subject, "order-1") {
			t.Fatalf("expected subject to reference the order, got: %s", got.subject)
		}
	case <-time.After(90 * time.Second):
		t.Fatal("timed out waiting for order placed event")
	}
}

type senderFunc func(ctx context.Context, to, subject, body string) error

func (f senderFunc) Send(ctx context.Context, to, subject, body string) error {
	return f(ctx, to, subject, body)
}
