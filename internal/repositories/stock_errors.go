package repositories

import "fmt"

// StockErrorCode enumerates repository error causes for stock ledger operations.
type StockErrorCode string

const (
	// StockErrorUnknown represents an unspecified failure.
	StockErrorUnknown StockErrorCode = "stock_unknown"
	// StockErrorInsufficient indicates a decrement would push stock negative.
	StockErrorInsufficient StockErrorCode = "stock_insufficient"
	// StockErrorProductNotFound indicates a referenced product row is missing.
	StockErrorProductNotFound StockErrorCode = "stock_product_not_found"
	// StockErrorCombinationNotFound indicates the combination is absent from the product.
	StockErrorCombinationNotFound StockErrorCode = "stock_combination_not_found"
	// StockErrorOrderNotFound indicates the order document is missing.
	StockErrorOrderNotFound StockErrorCode = "stock_order_not_found"
	// StockErrorAlreadyConsumed indicates the order already holds consumed stock.
	StockErrorAlreadyConsumed StockErrorCode = "stock_already_consumed"
	// StockErrorInvalidState indicates the order status forbids the operation.
	StockErrorInvalidState StockErrorCode = "stock_invalid_state"
)

// StockError wraps stock-ledger failures with machine readable codes.
type StockError struct {
	Op      string
	Code    StockErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *StockError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *StockError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewStockError constructs a typed stock ledger error.
func NewStockError(code StockErrorCode, message string, err error) *StockError {
	if message == "" {
		message = string(code)
	}
	return &StockError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
