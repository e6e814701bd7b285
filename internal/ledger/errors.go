package ledger

import "errors"

// Validation sentinels. These are bad-input failures: returned synchronously,
// never retried, and safe for callers to branch on with errors.Is.
var (
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrInvalidCost     = errors.New("total cost cannot be negative")
	ErrNoRecipe        = errors.New("no recipe configured")
	ErrEmptyRecipe     = errors.New("recipe has no lines")
	ErrInvalidYield    = errors.New("recipe standard yield must be greater than zero")
	ErrNegativeActual  = errors.New("reported actual amount cannot be negative")
	ErrInvalidPayment  = errors.New("payment amount must be greater than zero")
)

var validationErrs = []error{
	ErrInvalidQuantity,
	ErrInvalidCost,
	ErrNoRecipe,
	ErrEmptyRecipe,
	ErrInvalidYield,
	ErrNegativeActual,
	ErrInvalidPayment,
}

// IsValidation reports whether err is one of the ledger validation sentinels.
func IsValidation(err error) bool {
	for _, sentinel := range validationErrs {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}
