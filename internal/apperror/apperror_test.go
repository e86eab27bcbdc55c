package apperror

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrappedError(t *testing.T) {
	err := fmt.Errorf("complete operation 7: %w", InsufficientStock(3, "1", "5"))

	assert.Equal(t, KindInsufficientStock, KindOf(err))
	assert.True(t, IsKind(err, KindInsufficientStock))
	assert.True(t, errors.Is(err, &Error{Kind: KindInsufficientStock}))
	assert.False(t, errors.Is(err, &Error{Kind: KindNotFound}))
}

func TestKindOfPlainErrorIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("pq: connection refused")))
	assert.False(t, IsKind(nil, KindInternal))
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("pq: relation \"items\" does not exist")
	err := Internal(cause)

	assert.NotContains(t, err.Message, "relation")
	assert.ErrorIs(t, err, cause)
}

func TestCircularDependencyDetails(t *testing.T) {
	err := CircularDependency([]int64{1, 2, 3, 1})

	require.Equal(t, KindCircularDependency, err.Kind)
	assert.Contains(t, err.Message, "1 → 2 → 3 → 1")
	assert.Equal(t, []int64{1, 2, 3, 1}, err.Details["cycle_path"])
}

func TestInvalidGeometryWithInfiniteValueEncodes(t *testing.T) {
	err := InvalidGeometry("width", math.Inf(1))

	body, jsonErr := json.Marshal(err)
	require.NoError(t, jsonErr)
	assert.Contains(t, string(body), `"value":"+Inf"`)
}
