// internal/api/router.go
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"pressline/internal/api/respond"
	"pressline/internal/apperror"
	"pressline/internal/catalog"
	"pressline/internal/costing"
	"pressline/internal/ledger"
	"pressline/internal/pricing"
	"pressline/internal/process"
	"pressline/internal/units"
)

// Handlers groups the HTTP handlers of every component.
type Handlers struct {
	Catalog *catalog.Handler
	Costing *costing.Handler
	Units   *units.Handler
	Process *process.Handler
	Ledger  *ledger.Handler
	Pricing *pricing.Handler
}

type Options struct {
	Logger          logrus.FieldLogger
	TransitionRate  float64
	TransitionBurst int
	// Health reports whether the service's dependencies are reachable.
	Health func(ctx context.Context) error
}

// NewRouter wires every route of the service.
func NewRouter(h Handlers, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.TransitionRate <= 0 {
		opts.TransitionRate = 50
	}
	if opts.TransitionBurst <= 0 {
		opts.TransitionBurst = 100
	}
	transitions := rateLimit(rate.NewLimiter(rate.Limit(opts.TransitionRate), opts.TransitionBurst))

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(opts.Logger))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Health != nil {
			if err := opts.Health(r.Context()); err != nil {
				respond.Error(w, r, apperror.Internal(err))
				return
			}
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if h.Costing != nil {
		r.Get("/cost", h.Costing.HandleCost)
	}
	if h.Pricing != nil {
		r.Put("/prices", h.Pricing.HandleSetPrice)
		r.Route("/price-periods/{period}", func(r chi.Router) {
			r.Post("/copy", h.Pricing.HandleCopyPeriod)
			r.Post("/close", h.Pricing.HandleClosePeriod)
		})
	}
	if h.Units != nil {
		r.Post("/coil-specs/calculate", h.Units.HandleCalculate)
	}

	if h.Catalog != nil || h.Ledger != nil {
		r.Route("/items/{id}", func(r chi.Router) {
			if h.Catalog != nil {
				r.Get("/", h.Catalog.HandleGetItem)
			}
			if h.Ledger != nil {
				r.Get("/stock-history", h.Ledger.HandleHistory)
			}
		})
	}

	if h.Process != nil {
		r.Route("/process-operations", func(r chi.Router) {
			r.Get("/", h.Process.HandleList)
			r.Post("/", h.Process.HandleCreate)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.Process.HandleGet)
				r.Get("/events", h.Process.HandleEvents)
				r.With(transitions).Post("/start", h.Process.HandleStart)
				r.With(transitions).Post("/complete", h.Process.HandleComplete)
				r.With(transitions).Delete("/", h.Process.HandleCancel)
			})
		})
	}

	return r
}
