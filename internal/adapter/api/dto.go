package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/pos-register/internal/core/domain"
)

const newStockStatus = "new_stock"

// flexString accepts a JSON string or number. The backend sends prices as
// strings and ids as numbers, but not consistently.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) asInt64() (int64, error) {
	return strconv.ParseInt(string(f), 10, 64)
}

// int accepts "5" and "5.0".
func (f flexString) asInt() (int, error) {
	if n, err := strconv.Atoi(string(f)); err == nil {
		return n, nil
	}
	d, err := decimal.NewFromString(string(f))
	if err != nil {
		return 0, err
	}
	return int(d.IntPart()), nil
}

func (f flexString) asDecimal() (decimal.Decimal, error) {
	if f == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(string(f))
}

type productDTO struct {
	ID       flexString `json:"product_id"`
	Name     string     `json:"product_name"`
	Price    flexString `json:"product_price"`
	Stock    flexString `json:"product_stock"`
	Category flexString `json:"category_name"`
	Image    *string    `json:"product_image"`
}

func (d productDTO) toDomain() (domain.Product, error) {
	id, err := d.ID.asInt64()
	if err != nil {
		return domain.Product{}, fmt.Errorf("product_id %q: %w", d.ID, err)
	}
	price, err := d.Price.asDecimal()
	if err != nil {
		return domain.Product{}, fmt.Errorf("product %d price %q: %w", id, d.Price, err)
	}
	stock := 0
	if d.Stock != "" {
		if stock, err = d.Stock.asInt(); err != nil {
			return domain.Product{}, fmt.Errorf("product %d stock %q: %w", id, d.Stock, err)
		}
	}

	p := domain.Product{
		ID:        id,
		Name:      d.Name,
		UnitPrice: price,
		Stock:     stock,
		Category:  string(d.Category),
	}
	if d.Image != nil {
		p.ImageRef = *d.Image
	}
	return p, nil
}

type productWriteDTO struct {
	Name     string `json:"product_name"`
	Price    string `json:"product_price"`
	Stock    int    `json:"product_stock"`
	Category string `json:"category_name"`
	Status   string `json:"product_status,omitempty"`
	Image    string `json:"product_image,omitempty"`
}

func productWriteFromDomain(p domain.Product, status string) productWriteDTO {
	return productWriteDTO{
		Name:     p.Name,
		Price:    p.UnitPrice.String(),
		Stock:    p.Stock,
		Category: p.Category,
		Status:   status,
		Image:    p.ImageRef,
	}
}

// productListDTO accepts a bare array or an object wrapping it.
type productListDTO []productDTO

func (l *productListDTO) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		var items []productDTO
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var wrapped struct {
		Products []productDTO `json:"products"`
		Results  []productDTO `json:"results"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	if wrapped.Products != nil {
		*l = wrapped.Products
	} else {
		*l = wrapped.Results
	}
	return nil
}

// Both quantity keys are sent; backends disagree on which one they read.
type orderItemDTO struct {
	Product  int64 `json:"product"`
	Qty      int   `json:"qty"`
	OrderQty int   `json:"order_qty"`
}

type orderRequestDTO struct {
	Items []orderItemDTO `json:"items"`
}

func orderRequestFromDomain(req domain.OrderRequest) orderRequestDTO {
	items := make([]orderItemDTO, 0, len(req.Lines))
	for _, l := range req.Lines {
		items = append(items, orderItemDTO{Product: l.ProductID, Qty: l.Quantity, OrderQty: l.Quantity})
	}
	return orderRequestDTO{Items: items}
}

type updatedProductDTO struct {
	Product flexString  `json:"product"`
	Stock   *flexString `json:"product_stock"`
	Price   *flexString `json:"price"`
	Qty     *flexString `json:"qty"`
}

type orderedLineDTO struct {
	Product flexString  `json:"product"`
	Qty     *flexString `json:"qty"`
	Price   *flexString `json:"price"`
}

type orderResponseDTO struct {
	OrderID         flexString          `json:"order_id"`
	Message         flexString          `json:"message"`
	UpdatedProducts []updatedProductDTO `json:"updated_products"`
	Orders          []orderedLineDTO    `json:"orders"`
}

func (d orderResponseDTO) toDomain() (domain.OrderResult, error) {
	result := domain.OrderResult{
		OrderID: string(d.OrderID),
		Message: string(d.Message),
	}

	for _, u := range d.UpdatedProducts {
		line := domain.OrderResultLine{}
		if id, err := u.Product.asInt64(); err == nil {
			line.ProductID = id
		} else {
			line.ProductName = string(u.Product)
		}
		if err := fillLine(&line, u.Qty, u.Price, u.Stock); err != nil {
			return domain.OrderResult{}, fmt.Errorf("updated_products: %w", err)
		}
		result.Lines = append(result.Lines, line)
	}

	// orders[] restates the same sale by product name; it is only read when
	// updated_products is absent
	if len(d.UpdatedProducts) > 0 {
		return result, nil
	}
	for _, o := range d.Orders {
		line := domain.OrderResultLine{ProductName: string(o.Product)}
		if err := fillLine(&line, o.Qty, o.Price, nil); err != nil {
			return domain.OrderResult{}, fmt.Errorf("orders: %w", err)
		}
		result.Lines = append(result.Lines, line)
	}
	return result, nil
}

func fillLine(line *domain.OrderResultLine, qty, price, stock *flexString) error {
	if qty != nil && *qty != "" {
		n, err := qty.asInt()
		if err != nil {
			return fmt.Errorf("qty %q: %w", *qty, err)
		}
		line.Quantity, line.HasQuantity = n, true
	}
	if price != nil && *price != "" {
		p, err := price.asDecimal()
		if err != nil {
			return fmt.Errorf("price %q: %w", *price, err)
		}
		line.UnitPrice, line.HasPrice = p, true
	}
	if stock != nil && *stock != "" {
		n, err := stock.asInt()
		if err != nil {
			return fmt.Errorf("product_stock %q: %w", *stock, err)
		}
		line.Stock, line.HasStock = n, true
	}
	return nil
}

type todayOrderDTO struct {
	ID          flexString `json:"id"`
	At          string     `json:"order_datetime"`
	ProductName string     `json:"product_name"`
	Qty         flexString `json:"order_qty"`
	Price       flexString `json:"order_price"`
}

type todayOrdersDTO struct {
	Orders []todayOrderDTO `json:"orders"`
}

var orderTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

func parseOrderTime(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range orderTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", s)
}

func (d todayOrderDTO) toDomain(loc *time.Location) (domain.SaleRecord, error) {
	at, err := parseOrderTime(d.At, loc)
	if err != nil {
		return domain.SaleRecord{}, err
	}
	qty, err := d.Qty.asInt()
	if err != nil {
		return domain.SaleRecord{}, fmt.Errorf("order_qty %q: %w", d.Qty, err)
	}
	price, err := d.Price.asDecimal()
	if err != nil {
		return domain.SaleRecord{}, fmt.Errorf("order_price %q: %w", d.Price, err)
	}
	return domain.SaleRecord{
		ID:          string(d.ID),
		At:          at,
		ProductName: d.ProductName,
		Quantity:    qty,
		UnitPrice:   price,
	}, nil
}

type loginRequestDTO struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponseDTO struct {
	Token string `json:"token"`
	Error string `json:"error"`
}
