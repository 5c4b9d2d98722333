package zkey

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntropyIsUniqueAndNonEmpty(t *testing.T) {
	a, err := Entropy()
	require.NoError(t, err)
	require.NotEmpty(t, a)

	b, err := Entropy()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestNewBufferStartsEmpty(t *testing.T) {
	buf := NewBuffer()
	require.Nil(t, buf.Previous)
	require.Nil(t, buf.Next)
}

func TestFormatHash(t *testing.T) {
	got := FormatHash([]byte{0xde, 0xad, 0xbe, 0xef}, "Contribution Hash: ")
	require.Equal(t, "Contribution Hash: deadbeef", got)
}
