package chaos

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine() *Engine {
	logger, _ := test.NewNullLogger()
	return NewEngine(logger, WithSampleInterval(5*time.Millisecond))
}

func constant(v float64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return v, nil }
}

// sequence returns values in order, repeating the last one.
func sequence(values ...float64) func(context.Context) (float64, error) {
	var calls atomic.Int64
	return func(context.Context) (float64, error) {
		i := int(calls.Add(1)) - 1
		if i >= len(values) {
			i = len(values) - 1
		}
		return values[i], nil
	}
}

func TestThresholdHolds(t *testing.T) {
	cases := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{">", 1, false},
		{"<", 0, true},
		{">=", 1, true},
		{"<=", 2, false},
		{"==", 1, true},
		{"!=", 1, false},
	}
	for _, c := range cases {
		th := Threshold{Operator: c.op, Value: 1}
		assert.Equal(t, c.want, th.Holds(c.value), "%v %s 1", c.value, c.op)
	}
}

func TestRunHypothesisHeld(t *testing.T) {
	engine := newTestEngine()
	var ran, rolledBack bool

	result, err := engine.Run(context.Background(), Experiment{
		Name:        "steady",
		SteadyState: []Probe{{Name: "errors", Query: constant(0), Threshold: Threshold{Operator: "==", Value: 0}}},
		Method:      []Action{{Name: "poke", Execute: func(context.Context) error { ran = true; return nil }}},
		Rollback:    []Action{{Name: "undo", Execute: func(context.Context) error { rolledBack = true; return nil }}},
		Validation:  []Assertion{{Probe: "errors", Condition: isZero, Message: "no errors"}},
		Duration:    20 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.True(t, ran)
	assert.True(t, rolledBack)
	assert.True(t, result.SteadyStateValid)
	assert.True(t, result.HypothesisHeld)
	assert.Empty(t, result.Failures)
	assert.NotEmpty(t, result.Observations["errors"])
	assert.Nil(t, result.MTTR)
	assert.Len(t, engine.Results(), 1)
}

func TestRunAbortsOnInvalidSteadyState(t *testing.T) {
	engine := newTestEngine()
	var ran bool

	result, err := engine.Run(context.Background(), Experiment{
		Name:        "unsteady",
		SteadyState: []Probe{{Name: "errors", Query: constant(3), Threshold: Threshold{Operator: "==", Value: 0}}},
		Method:      []Action{{Name: "poke", Execute: func(context.Context) error { ran = true; return nil }}},
		Duration:    time.Millisecond,
	})
	require.ErrorIs(t, err, ErrSteadyStateInvalid)

	assert.False(t, ran)
	assert.False(t, result.SteadyStateValid)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, 3.0, result.Violations[0].Actual)
	assert.Empty(t, engine.Results())
}

func TestRunAbortsOnFailedSetup(t *testing.T) {
	engine := newTestEngine()
	boom := errors.New("boom")

	_, err := engine.Run(context.Background(), Experiment{
		Name:  "no-setup",
		Setup: []Action{{Name: "seed", Execute: func(context.Context) error { return boom }}},
	})
	assert.ErrorIs(t, err, boom)
}

func TestRunRecordsMethodErrorsAndFailedAssertions(t *testing.T) {
	engine := newTestEngine()

	result, err := engine.Run(context.Background(), Experiment{
		Name: "degrading",
		SteadyState: []Probe{
			{Name: "drift", Query: sequence(0, 2), Threshold: Threshold{Operator: "==", Value: 0}},
		},
		Method: []Action{{
			Name:    "draw",
			Target:  "stock-ledger",
			Execute: func(context.Context) error { return errors.New("overdrawn") },
		}},
		Validation: []Assertion{
			{Probe: "drift", Condition: isZero, Message: "drift must be zero"},
			{Probe: "missing", Condition: isZero, Message: "missing probe"},
		},
		Duration: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.False(t, result.HypothesisHeld)
	assert.Equal(t, []string{"drift must be zero", "missing probe: no observations"}, result.Failures)
	require.NotEmpty(t, result.ErrorEvents)
	assert.Equal(t, "stock-ledger", result.ErrorEvents[0].Component)
	assert.NotEmpty(t, result.Violations)
}

func TestRunMeasuresRecovery(t *testing.T) {
	engine := newTestEngine()

	result, err := engine.Run(context.Background(), Experiment{
		Name: "recovering",
		SteadyState: []Probe{
			{Name: "lag", Query: sequence(0, 5, 0), Threshold: Threshold{Operator: "<", Value: 1}},
		},
		Validation: []Assertion{{Probe: "lag", Condition: isZero, Message: "lag must recover"}},
		Duration:   100 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.True(t, result.HypothesisHeld)
	require.NotNil(t, result.MTTR)
	assert.Len(t, result.Violations, 1)
}

func TestExecuteGameDayCountsHeldScenarios(t *testing.T) {
	logger, hook := test.NewNullLogger()
	engine := NewEngine(logger, WithSampleInterval(5*time.Millisecond))

	ok := Experiment{
		Name:        "ok",
		SteadyState: []Probe{{Name: "p", Query: constant(0), Threshold: Threshold{Operator: "==", Value: 0}}},
		Validation:  []Assertion{{Probe: "p", Condition: isZero, Message: "zero"}},
		Duration:    10 * time.Millisecond,
	}
	aborted := Experiment{
		Name:        "aborted",
		SteadyState: []Probe{{Name: "p", Query: constant(1), Threshold: Threshold{Operator: "==", Value: 0}}},
	}
	engine.Register(ok)
	engine.Register(aborted)
	require.Len(t, engine.Experiments(), 2)

	held, err := engine.ExecuteGameDay(context.Background(), GameDay{
		Name:      "test",
		Scenarios: engine.Experiments(),
		Pause:     time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, held)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "experiment aborted", hook.LastEntry().Message)
}
