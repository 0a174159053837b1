package domain

// Catalog is an immutable, versioned snapshot of the product list. Every
// change returns a new snapshot; holders of an older snapshot never observe
// the change.
type Catalog struct {
	version  uint64
	products []Product
	index    map[int64]int
}

func NewCatalog(version uint64, products []Product) Catalog {
	c := Catalog{
		version:  version,
		products: make([]Product, 0, len(products)),
		index:    make(map[int64]int, len(products)),
	}
	for _, p := range products {
		if p.Stock < 0 {
			p.Stock = 0
		}
		if i, ok := c.index[p.ID]; ok {
			c.products[i] = p
			continue
		}
		c.index[p.ID] = len(c.products)
		c.products = append(c.products, p)
	}
	return c
}

func (c Catalog) Version() uint64 { return c.version }

func (c Catalog) Len() int { return len(c.products) }

func (c Catalog) Find(id int64) (Product, bool) {
	i, ok := c.index[id]
	if !ok {
		return Product{}, false
	}
	return c.products[i], true
}

// Products returns a copy in catalog order.
func (c Catalog) Products() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

// Replace swaps the whole product list, as after a fetch.
func (c Catalog) Replace(products []Product) Catalog {
	return NewCatalog(c.version+1, products)
}

// WithStock patches stock levels for the given products. Unknown ids are ignored.
func (c Catalog) WithStock(stock map[int64]int) Catalog {
	products := c.Products()
	for i := range products {
		if s, ok := stock[products[i].ID]; ok {
			products[i].Stock = s
		}
	}
	return NewCatalog(c.version+1, products)
}

// WithProduct inserts p or replaces the product with the same id in place.
func (c Catalog) WithProduct(p Product) Catalog {
	products := c.Products()
	if i, ok := c.index[p.ID]; ok {
		products[i] = p
	} else {
		products = append(products, p)
	}
	return NewCatalog(c.version+1, products)
}

func (c Catalog) WithoutProduct(id int64) Catalog {
	products := make([]Product, 0, len(c.products))
	for _, p := range c.products {
		if p.ID != id {
			products = append(products, p)
		}
	}
	return NewCatalog(c.version+1, products)
}

// LowStockCount counts products below LowStockThreshold, out of stock included.
func (c Catalog) LowStockCount() int {
	n := 0
	for _, p := range c.products {
		if p.Stock < LowStockThreshold {
			n++
		}
	}
	return n
}
