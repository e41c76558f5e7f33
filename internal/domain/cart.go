package domain

import "github.com/shopspring/decimal"

type CartItem struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

// CartLine is a cart item joined with the live product it references.
// Price and stock reflect the catalog at read time, not at checkout.
type CartLine struct {
	ItemID      string          `json:"item_id"`
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Qty         int             `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

type Cart struct {
	Lines []CartLine      `json:"lines"`
	Total decimal.Decimal `json:"total"`
}
