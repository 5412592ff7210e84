package taskid_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nimbusfs/objectsync/internal/taskid"
)

func TestNewIsUniqueAndPrefixed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := taskid.New("upload")
		require.True(t, strings.HasPrefix(id, "upload-"))
		require.False(t, seen[id], "duplicate id generated: %s", id)
		seen[id] = true
	}
}
