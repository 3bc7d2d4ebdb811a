package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCloneKeepsCodeAndMatchesWithIs(t *testing.T) {
	cloned := Clone(ErrUnsafeRollback, "cannot approve: 1 safety check failed")
	require.Equal(t, "UNSAFE_ROLLBACK", cloned.Code)
	require.Equal(t, http.StatusConflict, cloned.Status)
	require.True(t, errors.Is(cloned, ErrUnsafeRollback))
	require.False(t, errors.Is(cloned, ErrNotApproved))

	wrapped := fmt.Errorf("approve plan: %w", cloned)
	require.True(t, errors.Is(wrapped, ErrUnsafeRollback))
}

func TestStateErrorCarriesCurrentStatus(t *testing.T) {
	err := StateError(ErrInvalidTransition, "cannot pause", "completed")
	require.Equal(t, "completed", err.Details["currentStatus"])
	require.Nil(t, ErrInvalidTransition.Details)
}

func TestFromErrorWrapsUnknownErrors(t *testing.T) {
	err := FromError(errors.New("boom"))
	require.Equal(t, ErrInternal.Code, err.Code)
	require.Equal(t, http.StatusInternalServerError, err.Status)
	require.Nil(t, FromError(nil))
}
