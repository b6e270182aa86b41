package trade

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := candidateID()
		require.NoError(t, err)

		assert.Len(t, id, 8)
		assert.True(t, strings.HasPrefix(id, tradeIDPrefix))
		for _, r := range id[len(tradeIDPrefix):] {
			assert.Contains(t, "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ", string(r))
		}
		seen[id] = true
	}
	// 100 draws from a 36^6 space should essentially never collide.
	assert.Greater(t, len(seen), 95)
}

func TestBase36Encode(t *testing.T) {
	assert.Equal(t, "", base36encode([]byte{0, 0, 0, 0}))
	assert.Equal(t, "1", base36encode([]byte{0, 0, 0, 1}))
	assert.Equal(t, "Z", base36encode([]byte{0, 0, 0, 35}))
	assert.Equal(t, "10", base36encode([]byte{0, 0, 0, 36}))
	// 0xFFFFFFFF = 4294967295 = "1Z141Z3" in base36.
	assert.Equal(t, "1Z141Z3", base36encode([]byte{0xFF, 0xFF, 0xFF, 0xFF}))
}
