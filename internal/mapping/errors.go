package mapping

import (
	"errors"
	"fmt"
)

// Category classifies every non-success outcome of the mapping flows. Web
// handlers branch on the category only, never on the underlying error.
type Category string

const (
	// CategoryInvalidLink means the confirmation token matched no record.
	CategoryInvalidLink Category = "invalid_link"
	// CategoryExpiredLink means the token existed but its window passed.
	CategoryExpiredLink Category = "expired_link"
	// CategoryAlreadyMapped means the record already carries a binding.
	CategoryAlreadyMapped Category = "already_mapped"
	// CategorySessionExpired means the flow lost its session principal.
	CategorySessionExpired Category = "session_expired"
	// CategoryNotFederated means the upstream authentication was not a
	// federated login. The user can retry with the right provider.
	CategoryNotFederated Category = "not_federated"
	// CategoryDuplicateBinding means the asserted identity is already bound
	// to a different record.
	CategoryDuplicateBinding Category = "duplicate_binding"
	// CategoryMappingError covers storage and other internal faults.
	CategoryMappingError Category = "mapping_error"
)

// FlowError carries the category a handler should act on together with the
// underlying cause for the logs.
type FlowError struct {
	Category Category
	Err      error
}

func (e *FlowError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}

	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *FlowError) Unwrap() error {
	return e.Err
}

func flowErr(category Category, err error) *FlowError {
	return &FlowError{Category: category, Err: err}
}

// CategoryOf extracts the category from an error returned by this package.
// Errors from elsewhere report CategoryMappingError.
func CategoryOf(err error) Category {
	var fe *FlowError
	if errors.As(err, &fe) {
		return fe.Category
	}

	return CategoryMappingError
}
