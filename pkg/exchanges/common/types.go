package common

import (
	"errors"
	"fmt"
)

// StatusOK is the status code Bithumb attaches to every successful response.
const StatusOK = "0000"

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// APIError is an exchange-level rejection: the HTTP call succeeded but the
// body carried a non-success status code.
type APIError struct {
	Status  string
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bithumb status %s", e.Status)
	}
	return fmt.Sprintf("bithumb status %s: %s", e.Status, e.Message)
}

// CheckStatus turns a response status into an *APIError unless it is StatusOK.
func CheckStatus(status, message string) error {
	if status == StatusOK {
		return nil
	}
	return &APIError{Status: status, Message: message}
}

// StatusOf extracts the exchange status from err, or "" when err is not an APIError.
func StatusOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return ""
}

// OrderResult is the exchange ack for a market order.
type OrderResult struct {
	Status  string
	OrderID string
}

// Contract is a single fill reported by the order detail endpoint.
type Contract struct {
	Price float64
	Units float64
	Fee   float64
	Time  int64 // ms
}

// OrderDetail is the lookup result for a placed order.
type OrderDetail struct {
	Status    string
	OrderID   string
	Symbol    string
	Side      Side
	Contracts []Contract
}

// AvgPrice returns the unit-weighted contract price, or 0 without contracts.
func (d OrderDetail) AvgPrice() float64 {
	var notional, units float64
	for _, c := range d.Contracts {
		notional += c.Price * c.Units
		units += c.Units
	}
	if units == 0 {
		return 0
	}
	return notional / units
}

// FilledUnits sums the units across all contracts.
func (d OrderDetail) FilledUnits() float64 {
	var units float64
	for _, c := range d.Contracts {
		units += c.Units
	}
	return units
}

// Balance holds the spendable KRW and coin amounts for one asset.
type Balance struct {
	Symbol        string
	AvailableKRW  float64
	AvailableCoin float64
}
