// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var ErrSteadyStateInvalid = errors.New("steady state invalid")

// Experiment is a consistency drill: prove the steady state, disturb the
// system, observe it, undo the disturbance and check the outcome.
type Experiment struct {
	Name        string
	Hypothesis  string
	Setup       []Action
	SteadyState []Probe
	Method      []Action
	Rollback    []Action
	Validation  []Assertion
	Duration    time.Duration
}

// Probe samples one measurable property of the system.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether v satisfies the threshold. Unknown operators never hold.
func (t Threshold) Holds(v float64) bool {
	switch t.Operator {
	case ">":
		return v > t.Value
	case "<":
		return v < t.Value
	case ">=":
		return v >= t.Value
	case "<=":
		return v <= t.Value
	case "==":
		return v == t.Value
	default:
		return false
	}
}

type Action struct {
	Name    string
	Target  string
	Execute func(context.Context) error
}

// Assertion checks the last observed value of a probe.
type Assertion struct {
	Probe     string
	Condition func(float64) bool
	Message   string
}

type Result struct {
	Experiment       string                 `json:"experiment"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Failures         []string               `json:"failures"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer   trace.Tracer
	runs     metric.Int64Counter
	logger   logrus.FieldLogger
	interval time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

type Option func(*Engine)

// WithSampleInterval sets how often probes are sampled while observing.
func WithSampleInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.interval = d
		}
	}
}

func NewEngine(logger logrus.FieldLogger, opts ...Option) *Engine {
	runs, _ := otel.Meter("pressline/chaos").Int64Counter("chaos.experiments",
		metric.WithDescription("Experiments run, by outcome"))
	e := &Engine{
		tracer:   otel.Tracer("pressline/chaos"),
		runs:     runs,
		logger:   logger,
		interval: time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes one experiment. A failed setup or an invalid steady state
// aborts before the method runs; rollback always runs once the method has.
func (e *Engine) Run(ctx context.Context, exp Experiment) (result *Result, err error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result = &Result{
		Experiment:   exp.Name,
		StartTime:    time.Now(),
		Observations: make(map[string][]DataPoint),
		ErrorEvents:  make([]ErrorEvent, 0),
	}
	defer func() {
		outcome := "held"
		switch {
		case err != nil:
			outcome = "aborted"
			span.SetStatus(codes.Error, err.Error())
		case !result.HypothesisHeld:
			outcome = "violated"
		}
		if e.runs != nil {
			e.runs.Add(ctx, 1, metric.WithAttributes(
				attribute.String("experiment", exp.Name),
				attribute.String("outcome", outcome),
			))
		}
	}()

	span.AddEvent("setup")
	for _, action := range exp.Setup {
		if err := action.Execute(ctx); err != nil {
			return result, fmt.Errorf("setup %s: %w", action.Name, err)
		}
	}

	span.AddEvent("validating_steady_state")
	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, fmt.Errorf("%s: %w", exp.Name, ErrSteadyStateInvalid)
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	span.AddEvent("validating_assertions")
	result.Failures = validate(exp.Validation, result)
	result.HypothesisHeld = len(result.Failures) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// observe samples the steady-state probes right away and then on every tick
// until the experiment duration elapses.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	observeCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var degradedAt time.Time
	recovered := false

	sample := func() {
		for _, probe := range exp.SteadyState {
			value, err := probe.Query(ctx)
			now := time.Now()
			if err != nil {
				result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: now, Error: err.Error(), Component: probe.Name})
				continue
			}
			result.Observations[probe.Name] = append(result.Observations[probe.Name], DataPoint{Timestamp: now, Value: value})

			if !probe.Threshold.Holds(value) {
				if degradedAt.IsZero() {
					degradedAt = now
				}
				result.Violations = append(result.Violations, Violation{
					Probe:     probe.Name,
					Expected:  probe.Threshold.Value,
					Actual:    value,
					Timestamp: now,
				})
			} else if !degradedAt.IsZero() && !recovered {
				mttr := now.Sub(degradedAt)
				result.MTTR = &mttr
				recovered = true
			}
		}
	}

	sample()
	for {
		select {
		case <-observeCtx.Done():
			return
		case <-ticker.C:
			sample()
		}
	}
}

func (e *Engine) checkSteadyState(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, probe := range probes {
		value, err := probe.Query(ctx)
		if err != nil {
			violations = append(violations, Violation{Probe: probe.Name, Expected: probe.Threshold.Value, Actual: -1, Timestamp: time.Now()})
			continue
		}
		if !probe.Threshold.Holds(value) {
			violations = append(violations, Violation{Probe: probe.Name, Expected: probe.Threshold.Value, Actual: value, Timestamp: time.Now()})
		}
	}
	return violations
}

// validate returns the messages of the assertions that failed against the
// last observation of their probe.
func validate(assertions []Assertion, result *Result) []string {
	var failures []string
	for _, a := range assertions {
		points := result.Observations[a.Probe]
		if len(points) == 0 {
			failures = append(failures, a.Message+": no observations")
			continue
		}
		if !a.Condition(points[len(points)-1].Value) {
			failures = append(failures, a.Message)
		}
	}
	return failures
}

// GameDay is a named series of experiments run back to back.
type GameDay struct {
	Name      string
	Scenarios []Experiment
	Pause     time.Duration
}

// ExecuteGameDay runs every scenario and returns how many held their
// hypothesis. Aborted scenarios are logged and skipped.
func (e *Engine) ExecuteGameDay(ctx context.Context, day GameDay) (int, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", day.Name)),
	)
	defer span.End()

	log := e.logger.WithField("gameday", day.Name)
	log.WithField("scenarios", len(day.Scenarios)).Info("game day started")

	held := 0
	for i, scenario := range day.Scenarios {
		entry := log.WithFields(logrus.Fields{
			"experiment": scenario.Name,
			"hypothesis": scenario.Hypothesis,
			"step":       fmt.Sprintf("%d/%d", i+1, len(day.Scenarios)),
		})

		result, err := e.Run(ctx, scenario)
		if err != nil {
			entry.WithError(err).Error("experiment aborted")
			continue
		}

		fields := logrus.Fields{
			"hypothesis_held": result.HypothesisHeld,
			"violations":      len(result.Violations),
			"errors":          len(result.ErrorEvents),
			"duration_ms":     result.Duration.Milliseconds(),
		}
		if result.MTTR != nil {
			fields["mttr_ms"] = result.MTTR.Milliseconds()
		}
		if result.HypothesisHeld {
			held++
			entry.WithFields(fields).Info("hypothesis held")
		} else {
			entry.WithFields(fields).WithField("failures", result.Failures).Warn("hypothesis violated")
		}

		if i < len(day.Scenarios)-1 && day.Pause > 0 {
			select {
			case <-ctx.Done():
				return held, ctx.Err()
			case <-time.After(day.Pause):
			}
		}
	}

	span.SetAttributes(attribute.Int("gameday.held", held))
	return held, nil
}
