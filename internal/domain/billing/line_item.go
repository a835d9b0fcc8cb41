package billing

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LineItemType classifies an invoice charge
type LineItemType string

const (
	LineItemTypeRent           LineItemType = "RENT"
	LineItemTypeUtility        LineItemType = "UTILITY"
	LineItemTypeFee            LineItemType = "FEE"
	LineItemTypeOpeningBalance LineItemType = "OPENING_BALANCE"
	LineItemTypeOther          LineItemType = "OTHER"
)

// IsValid checks if the line item type is known
func (t LineItemType) IsValid() bool {
	switch t {
	case LineItemTypeRent, LineItemTypeUtility, LineItemTypeFee,
		LineItemTypeOpeningBalance, LineItemTypeOther:
		return true
	}
	return false
}

// String returns the string representation
func (t LineItemType) String() string {
	return string(t)
}

// InvoiceLineItem is one charge on an invoice. It is owned by its invoice.
type InvoiceLineItem struct {
	ID          uuid.UUID
	InvoiceID   uuid.UUID
	Position    int
	Type        LineItemType
	Description string
	Quantity    decimal.Decimal
	UnitRate    decimal.Decimal
	Amount      decimal.Decimal
}

// NewLineItem creates a charge line whose amount is quantity * rate.
func NewLineItem(itemType LineItemType, description string, quantity, rate decimal.Decimal) InvoiceLineItem {
	return InvoiceLineItem{
		ID:          uuid.New(),
		Type:        itemType,
		Description: description,
		Quantity:    quantity,
		UnitRate:    rate,
		Amount:      quantity.Mul(rate),
	}
}

// NewOpeningBalanceLine creates the carry-forward line. Its amount is taken
// verbatim and is negative when it carries prepaid credit.
func NewOpeningBalanceLine(amount decimal.Decimal) InvoiceLineItem {
	description := "Balance brought forward"
	if amount.IsNegative() {
		description = "Credit brought forward"
	}
	return InvoiceLineItem{
		ID:          uuid.New(),
		Type:        LineItemTypeOpeningBalance,
		Description: description,
		Quantity:    decimal.NewFromInt(1),
		UnitRate:    amount,
		Amount:      amount,
	}
}

// IsOpeningBalance reports whether the line carries a prior balance
func (li InvoiceLineItem) IsOpeningBalance() bool {
	return li.Type == LineItemTypeOpeningBalance
}

// sumLines splits the total of items into the base amount and the opening balance.
func sumLines(items []InvoiceLineItem) (amount, opening decimal.Decimal) {
	amount, opening = decimal.Zero, decimal.Zero
	for _, li := range items {
		if li.IsOpeningBalance() {
			opening = opening.Add(li.Amount)
			continue
		}
		amount = amount.Add(li.Amount)
	}
	return amount, opening
}
