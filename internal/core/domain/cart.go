package domain

// CartLine pairs a product with a quantity. Quantity is always >= 1 while the
// line is in a cart.
type CartLine struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}
