package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorString(t *testing.T) {
	err := New(KindTransmission, "error sending chunk", map[string]any{"chunkIndex": 3, "attempt": "text"})
	assert.Equal(t, "TRANSMISSION_ERROR: error sending chunk (attempt=text, chunkIndex=3)", err.Error())

	wrapped := Wrap(KindRemote, errors.New("pipe closed"), "driver call failed", nil)
	assert.Equal(t, "REMOTE_FAILURE: driver call failed: pipe closed", wrapped.Error())
}

func TestIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("print: %w", New(KindPrint, "printer reported an error", map[string]any{"code": 7}))

	assert.ErrorIs(t, err, New(KindPrint, "", nil))
	assert.NotErrorIs(t, err, New(KindTimeout, "", nil))
	assert.Equal(t, KindPrint, KindOf(err))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("device gone")
	err := Wrap(KindFinalize, cause, "error finalizing print", nil)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, cause, errors.Unwrap(err))
}

func TestKindOfPlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestOutermostWins(t *testing.T) {
	inner := New(KindRemote, "driver call failed", nil)
	outer := Wrap(KindFinalize, inner, "error finalizing print", map[string]any{"step": "close"})

	fe, ok := As(outer)
	require.True(t, ok)
	assert.Equal(t, KindFinalize, fe.Kind)
	assert.ErrorIs(t, outer, New(KindRemote, "", nil))
}

func TestFrom(t *testing.T) {
	assert.Nil(t, From(nil, KindRemote))

	fe := New(KindTimeout, "no completion signal from printer", nil)
	assert.Same(t, fe, From(fmt.Errorf("wrapped: %w", fe), KindRemote))

	plain := errors.New("boom")
	got := From(plain, KindRemote)
	assert.Equal(t, KindRemote, got.Kind)
	assert.Equal(t, "unexpected failure", got.Message)
	assert.ErrorIs(t, got, plain)
}
