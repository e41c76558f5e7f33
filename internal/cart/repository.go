package cart

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ecrodrig/storefront/internal/domain"
)

type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db: db}
}

// Add puts one unit of the product into the user's cart, incrementing the
// quantity if a line already exists. The stock check here is coarse; true
// availability is re-validated inside the checkout transaction.
func (r *CartRepository) Add(ctx context.Context, userID, productID string) (*domain.CartItem, error) {
	var stock int
	err := r.db.QueryRowContext(ctx, `
		SELECT stock FROM products WHERE id = $1
	`, productID).Scan(&stock)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &domain.NotFoundError{Entity: "product", ID: productID}
		}
		return nil, err
	}

	if stock <= 0 {
		return nil, &domain.InsufficientStockError{ProductID: productID}
	}

	item := &domain.CartItem{
		UserID:    userID,
		ProductID: productID,
	}

	err = r.db.QueryRowContext(ctx, `
		INSERT INTO cart_items (id, user_id, product_id, qty)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, product_id) DO UPDATE SET qty = cart_items.qty + 1
		RETURNING id, qty
	`, uuid.New().String(), userID, productID).Scan(&item.ID, &item.Qty)
	if err != nil {
		return nil, err
	}

	return item, nil
}

// UpdateQuantity sets the line quantity, clamped to a minimum of 1. A row
// that does not exist under this user is reported as not owned.
func (r *CartRepository) UpdateQuantity(ctx context.Context, userID, itemID string, qty int) (*domain.CartItem, error) {
	if qty < 1 {
		qty = 1
	}

	item := &domain.CartItem{
		ID:     itemID,
		UserID: userID,
		Qty:    qty,
	}

	err := r.db.QueryRowContext(ctx, `
		UPDATE cart_items SET qty = $3
		WHERE id = $1 AND user_id = $2
		RETURNING product_id
	`, itemID, userID, qty).Scan(&item.ProductID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, domain.ErrNotOwner
		}
		return nil, err
	}

	return item, nil
}

// Remove deletes the line if it belongs to the user. Removing a missing or
// foreign item is a silent no-op.
func (r *CartRepository) Remove(ctx context.Context, userID, itemID string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM cart_items WHERE id = $1 AND user_id = $2
	`, itemID, userID)
	return err
}

func (r *CartRepository) List(ctx context.Context, userID string) (*domain.Cart, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT ci.id, ci.product_id, p.name, ci.qty, p.price, p.stock
		FROM cart_items ci
		JOIN products p ON ci.product_id = p.id
		WHERE ci.user_id = $1
		ORDER BY p.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cart := &domain.Cart{
		Lines: []domain.CartLine{},
		Total: decimal.Zero,
	}

	for rows.Next() {
		var line domain.CartLine
		if err := rows.Scan(&line.ItemID, &line.ProductID, &line.ProductName, &line.Qty, &line.Price, &line.Stock); err != nil {
			return nil, err
		}
		cart.Lines = append(cart.Lines, line)
		cart.Total = cart.Total.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Qty))))
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return cart, nil
}
