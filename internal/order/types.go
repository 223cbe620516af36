package order

import (
	"errors"

	"tradebot/pkg/exchanges/common"
)

// Result statuses that are not exchange codes.
const (
	StatusPassed     = "passed"
	StatusInProgress = "in_progress"
	StatusError      = "error"
)

var (
	ErrRejected     = errors.New("order rejected by exchange")
	ErrNoContract   = errors.New("order has no contract detail")
	ErrNotHeld      = errors.New("symbol is not in holding coins")
	ErrHeld         = errors.New("symbol is already in holding coins")
	ErrInProgress   = errors.New("symbol has an order in flight")
	ErrInsufficient = errors.New("insufficient balance for order")
)

// Result is what every trading intent returns. Status is the exchange code
// ("0000" on success) or one of the local statuses above.
type Result struct {
	Status    string  `json:"status"`
	Message   string  `json:"message"`
	Symbol    string  `json:"symbol"`
	OrderID   string  `json:"orderId,omitempty"`
	Units     float64 `json:"units,omitempty"`
	Price     float64 `json:"price,omitempty"`
	ProfitPct float64 `json:"profitPct,omitempty"`
	Err       error   `json:"-"`
}

// OK reports whether the exchange accepted the order.
func (r Result) OK() bool { return r.Status == common.StatusOK && r.Err == nil }

func failed(symbol, status string, err error) Result {
	if status == "" {
		status = StatusError
	}
	return Result{Status: status, Symbol: symbol, Message: err.Error(), Err: err}
}
