package registry_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/objectsync/internal/registry"
)

func TestFlagsCancelAndPauseLifecycle(t *testing.T) {
	f := registry.NewFlags()
	f.Register("t1")
	require.False(t, f.IsCancelled("t1"))
	require.False(t, f.IsPaused("t1"))

	f.Pause("t1")
	require.True(t, f.IsPaused("t1"))
	f.Resume("t1")
	require.False(t, f.IsPaused("t1"))

	f.Cancel("t1")
	require.True(t, f.IsCancelled("t1"))

	f.Clear("t1")
	require.False(t, f.IsCancelled("t1"))
	require.False(t, f.IsPaused("t1"))
}

func TestProvidersRegisterGetRemove(t *testing.T) {
	p := registry.NewProviders()
	_, ok := p.Get("acct1")
	require.False(t, ok)

	p.Register("acct1", nil)
	_, ok = p.Get("acct1")
	require.True(t, ok)

	p.Remove("acct1")
	_, ok = p.Get("acct1")
	require.False(t, ok)
}
