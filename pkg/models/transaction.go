package models

import (
	"fmt"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Transaction is the unified view of a booked transaction. Negative amounts
// are outflows.
type Transaction struct {
	TransactionID string  `json:"transaction_id"`
	AccountID     string  `json:"account_id"`
	Bank          string  `json:"bank,omitempty"`
	Amount        string  `json:"amount"`
	Currency      string  `json:"currency"`
	BookingDate   string  `json:"booking_date"`
	Description   *string `json:"description,omitempty"`
	MCC           *string `json:"mcc,omitempty"`
}

func (t Transaction) AsAmount() Amount {
	return Amount{Value: t.Amount, Currency: t.Currency}
}

// Amount represents a monetary amount
type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

// Decimal parses the amount value
func (a Amount) Decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(a.Value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse amount %q: %w", a.Value, err)
	}
	return d, nil
}

// ToMoney converts the amount to minor units of its currency. Extra fraction
// digits are rounded away.
func (a Amount) ToMoney() (*money.Money, error) {
	d, err := a.Decimal()
	if err != nil {
		return nil, err
	}
	fraction := 2
	if currency := money.GetCurrency(a.Currency); currency != nil {
		fraction = currency.Fraction
	}
	return money.New(d.Shift(int32(fraction)).Round(0).IntPart(), a.Currency), nil
}

// Display formats the amount for humans, falling back to the raw value
func (a Amount) Display() string {
	m, err := a.ToMoney()
	if err != nil {
		return a.Value + " " + a.Currency
	}
	return m.Display()
}
