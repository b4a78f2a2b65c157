package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vaultofvirtue/techescape/internal/errors"
)

func TestConvert(t *testing.T) {
	e := errors.New(errors.CodeNotFound, errors.WithMessagef("Challenge not found"))

	require.Equal(t, e, errors.Convert(e))
	require.Equal(t, errors.CodeNotFound, errors.CodeOf(e))
	require.Equal(t, http.StatusNotFound, e.HTTPStatusCode())

	// Unknown errors become internal without leaking their message.
	plain := stderrors.New("pq: connection reset")
	conv := errors.Convert(plain)
	require.Equal(t, errors.CodeInternal, conv.Code)
	require.Equal(t, "Server error", conv.Message)
	require.ErrorIs(t, conv, plain)

	// Exhausted transient failures surface as a plain 500.
	require.Equal(t, http.StatusInternalServerError,
		errors.New(errors.CodeUnavailable).HTTPStatusCode())
}

func TestCodeOf(t *testing.T) {
	require.EqualValues(t, 0, errors.CodeOf(nil))

	// A wrapped *Error keeps its code.
	cause := errors.New(errors.CodeAlreadyCompleted)
	require.Equal(t, errors.CodeAlreadyCompleted, errors.CodeOf(fmtWrap(cause)))
}

func fmtWrap(err error) error {
	return stderrors.Join(stderrors.New("context"), err)
}

func TestIsRetryable(t *testing.T) {
	require.True(t, errors.IsRetryable(errors.New(errors.CodeUnavailable)))
	require.False(t, errors.IsRetryable(errors.New(errors.CodeNotFound)))
	require.False(t, errors.IsRetryable(nil))
}

func TestWithCause(t *testing.T) {
	cause := stderrors.New("row not found")
	e := errors.New(errors.CodeNotFound, errors.WithCause(cause))

	require.ErrorIs(t, e, cause)
	require.Contains(t, e.Error(), "row not found")
}
