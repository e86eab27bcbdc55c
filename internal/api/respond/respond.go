// Package respond writes the JSON envelopes shared by every handler.
package respond

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pressline/internal/apperror"
)

func init() {
	// Quantities, weights and ratios go over the wire as plain JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

type envelope struct {
	Success bool            `json:"success"`
	Data    interface{}     `json:"data,omitempty"`
	Error   *apperror.Error `json:"error,omitempty"`
}

type loggerKey struct{}

// WithLogger attaches a request-scoped logger to ctx.
func WithLogger(ctx context.Context, logger logrus.FieldLogger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// Logger returns the request-scoped logger, or the standard logger.
func Logger(ctx context.Context) logrus.FieldLogger {
	if l, ok := ctx.Value(loggerKey{}).(logrus.FieldLogger); ok {
		return l
	}
	return logrus.StandardLogger()
}

func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

// Error maps err onto a status code and a structured body. Anything that is
// not a domain error is logged and replaced with a generic Internal error.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	appErr, ok := apperror.As(err)
	if !ok || appErr.Kind == apperror.KindInternal {
		Logger(r.Context()).WithError(err).Error("request failed")
		if !ok {
			appErr = apperror.Internal(err)
		}
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(StatusFor(appErr.Kind))
	json.NewEncoder(w).Encode(envelope{Success: false, Error: appErr})
}

func StatusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindInvalidGeometry, apperror.KindInvalidInput:
		return http.StatusBadRequest
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindIllegalTransition, apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindRateLimited:
		return http.StatusTooManyRequests
	case apperror.KindInsufficientStock, apperror.KindCircularDependency,
		apperror.KindMissingPrice, apperror.KindDepthExceeded:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError converts validator failures into an InvalidInput error keyed by field.
func ValidationError(err error) error {
	fields := map[string]interface{}{}
	if verrs, ok := err.(validator.ValidationErrors); ok {
		for _, ve := range verrs {
			fields[ve.Field()] = ve.Tag()
		}
	}
	return apperror.InvalidInput("입력값을 확인해 주세요", map[string]interface{}{"fields": fields})
}

// PathID parses a positive integer route parameter.
func PathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.InvalidInput("잘못된 식별자입니다", map[string]interface{}{name: raw})
	}
	return id, nil
}

// QueryInt parses an optional integer query parameter, returning def when absent.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperror.InvalidInput("잘못된 조회 조건입니다", map[string]interface{}{name: raw})
	}
	return v, nil
}
