package domain

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/akriventsev/orderflow/framework/core"
)

// Product позиция заказа. Значение неизменяемо после попадания в событие.
type Product struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

// NewProduct создает продукт с проверкой инвариантов
func NewProduct(productID, name string, price decimal.Decimal, quantity int) (Product, error) {
	p := Product{ProductID: productID, Name: name, Price: price, Quantity: quantity}
	if err := p.Validate(); err != nil {
		return Product{}, err
	}
	return p, nil
}

// Validate проверяет поля продукта
func (p Product) Validate() error {
	switch {
	case strings.TrimSpace(p.ProductID) == "":
		return core.NewError(core.ErrInvalidInput, "productId is required")
	case strings.TrimSpace(p.Name) == "":
		return core.NewError(core.ErrInvalidInput, "product name is required")
	case p.Price.IsNegative():
		return core.NewError(core.ErrInvalidInput, "price must be non-negative")
	case p.Quantity < 0:
		return core.NewError(core.ErrInvalidInput, "quantity must be non-negative")
	}
	return nil
}

// Equal сравнивает продукты по значению. Цена сравнивается численно: 9.9 == 9.90.
func (p Product) Equal(other Product) bool {
	return p.ProductID == other.ProductID &&
		p.Name == other.Name &&
		p.Price.Equal(other.Price) &&
		p.Quantity == other.Quantity
}

// Subtotal возвращает price * quantity
func (p Product) Subtotal() decimal.Decimal {
	return p.Price.Mul(decimal.NewFromInt(int64(p.Quantity)))
}

// Total суммирует стоимость позиций
func Total(products []Product) decimal.Decimal {
	total := decimal.Zero
	for _, p := range products {
		total = total.Add(p.Subtotal())
	}
	return total
}
