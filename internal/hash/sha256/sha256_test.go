package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHash(t *testing.T) {
	t.Parallel()

	h := New()
	require.Equal(t, "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9", h.Hash([]byte("hello world")))
	require.Equal(t, h.Hash([]byte("x")), h.Hash([]byte("x")))
	require.Len(t, h.Hash(nil), 64)
}
