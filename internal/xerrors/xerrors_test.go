package xerrors_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/objectsync/internal/xerrors"
)

func TestIsCancelledAndIsPaused(t *testing.T) {
	require.True(t, xerrors.IsCancelled(xerrors.ErrCancelled))
	require.False(t, xerrors.IsCancelled(xerrors.ErrPaused))
	require.True(t, xerrors.IsPaused(xerrors.ErrPaused))
	require.False(t, xerrors.IsPaused(xerrors.ErrCancelled))
}

func TestIsCancelledWrapped(t *testing.T) {
	wrapped := errors.New("worker: " + xerrors.ErrCancelled.Error())
	require.False(t, xerrors.IsCancelled(wrapped)) // plain string wrap, not errors.Is-able
	require.True(t, xerrors.IsCancelled(xerrors.ErrCancelled))
}

func TestProviderRetryable(t *testing.T) {
	err := xerrors.Provider(true, errors.New("slow down"))
	require.True(t, xerrors.IsRetryable(err))
	require.Equal(t, xerrors.KindProvider, xerrors.KindOf(err))

	err2 := xerrors.Provider(false, errors.New("not found"))
	require.False(t, xerrors.IsRetryable(err2))
}

func TestNilErrorsPassThrough(t *testing.T) {
	require.NoError(t, xerrors.Provider(true, nil))
	require.NoError(t, xerrors.Persistence(nil))
	require.NoError(t, xerrors.Filesystem(nil))
}

func TestClassifierHeuristics(t *testing.T) {
	require.True(t, xerrors.IsDiskFullError(errors.New("write failed: no space left on device")))
	require.False(t, xerrors.IsDiskFullError(errors.New("permission denied")))

	require.True(t, xerrors.IsNetworkError(errors.New("dial tcp: connection refused")))
	require.True(t, xerrors.IsRateLimited(errors.New("429 Too Many Requests")))
}
