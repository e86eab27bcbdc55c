// internal/apperror/apperror.go
package apperror

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Kind is the machine-readable category of a domain failure.
type Kind string

const (
	KindInvalidGeometry    Kind = "InvalidGeometry"
	KindCircularDependency Kind = "CircularDependency"
	KindMissingPrice       Kind = "MissingPrice"
	KindIllegalTransition  Kind = "IllegalTransition"
	KindInsufficientStock  Kind = "InsufficientStock"
	KindDepthExceeded      Kind = "DepthExceeded"
	KindNotFound           Kind = "NotFound"
	KindInvalidInput       Kind = "InvalidInput"
	KindConflict           Kind = "Conflict"
	KindRateLimited        Kind = "RateLimited"
	KindInternal           Kind = "Internal"
)

// Error is a domain failure that is safe to show to a user.
type Error struct {
	Kind    Kind                   `json:"kind"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// As extracts the *Error from an error chain.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for anything that is not a domain error.
func KindOf(err error) Kind {
	if appErr, ok := As(err); ok {
		return appErr.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func New(kind Kind, message string, details map[string]interface{}) *Error {
	return &Error{Kind: kind, Message: message, Details: details}
}

// InvalidGeometry reports a dimension that is not a finite positive number.
// Non-finite values are carried as text since JSON cannot encode them.
func InvalidGeometry(field string, value float64) *Error {
	var v interface{} = value
	if math.IsInf(value, 0) || math.IsNaN(value) {
		v = fmt.Sprint(value)
	}
	return New(KindInvalidGeometry, fmt.Sprintf("%s 값은 0보다 큰 유한한 수여야 합니다", field), map[string]interface{}{
		"field": field,
		"value": v,
	})
}

func CircularDependency(path []int64) *Error {
	parts := make([]string, len(path))
	for i, id := range path {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return New(KindCircularDependency, "BOM에 순환 참조가 있습니다: "+strings.Join(parts, " → "), map[string]interface{}{
		"cycle_path": path,
	})
}

func MissingPrice(itemID int64, period string) *Error {
	return New(KindMissingPrice, fmt.Sprintf("품목 %d의 %s 단가가 등록되어 있지 않습니다", itemID, period), map[string]interface{}{
		"item_id": itemID,
		"period":  period,
	})
}

func IllegalTransition(from, action string) *Error {
	return New(KindIllegalTransition, fmt.Sprintf("현재 상태(%s)에서는 %s 처리를 할 수 없습니다", from, action), map[string]interface{}{
		"from":   from,
		"action": action,
	})
}

func InsufficientStock(itemID int64, available, required string) *Error {
	return New(KindInsufficientStock, fmt.Sprintf("품목 %d의 재고가 부족합니다 (현재고: %s, 필요수량: %s)", itemID, available, required), map[string]interface{}{
		"item_id":   itemID,
		"available": available,
		"required":  required,
	})
}

func DepthExceeded(itemID int64, maxDepth int) *Error {
	return New(KindDepthExceeded, fmt.Sprintf("BOM 전개 깊이가 최대치(%d)를 초과했습니다", maxDepth), map[string]interface{}{
		"item_id":   itemID,
		"max_depth": maxDepth,
	})
}

func NotFound(resource string, id interface{}) *Error {
	return New(KindNotFound, fmt.Sprintf("%s을(를) 찾을 수 없습니다", resource), map[string]interface{}{
		"resource": resource,
		"id":       id,
	})
}

func InvalidInput(message string, details map[string]interface{}) *Error {
	return New(KindInvalidInput, message, details)
}

func Conflict(message string, details map[string]interface{}) *Error {
	return New(KindConflict, message, details)
}

func RateLimited() *Error {
	return New(KindRateLimited, "요청이 너무 많습니다. 잠시 후 다시 시도해 주세요", nil)
}

// Internal hides cause from the user-facing message but keeps it in the chain for logging.
func Internal(cause error) *Error {
	return &Error{Kind: KindInternal, Message: "처리 중 오류가 발생했습니다. 잠시 후 다시 시도해 주세요", cause: cause}
}
