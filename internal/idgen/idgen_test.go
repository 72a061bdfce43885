package idgen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBranchCarriesMagicCookiePrefix(t *testing.T) {
	b := Branch()
	assert.True(t, len(b) > len(BranchMagicCookie))
	assert.Equal(t, BranchMagicCookie, b[:len(BranchMagicCookie)])
}

func TestGeneratorsAreUniqueAndDashFree(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		for _, id := range []string{Branch(), Tag(), CallID()} {
			require.False(t, seen[id], "generated a duplicate id: %s", id)
			seen[id] = true
			require.False(t, strings.Contains(id, "-"), "id %q still contains a dash", id)
		}
	}
}
