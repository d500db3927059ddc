package textutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "cs2110", NormalizeName("  CS 2110\n"))
	require.Equal(t, "multivariablecalculus", NormalizeName("Multivariable \t Calculus"))
}

func TestMatchName(t *testing.T) {
	require.True(t, MatchName("CS 2110", []string{"cs2110"}))
	require.True(t, MatchName("CS 2110", []string{"biology", "cs 21"}))
	require.False(t, MatchName("CS 2110", []string{"math"}))
	require.False(t, MatchName("CS 2110", nil))
}

func TestSanitizePathComponent(t *testing.T) {
	require.Equal(t, "CS 2110 _ Systems", SanitizePathComponent("CS 2110 / Systems"))
	require.Equal(t, "_evil.pdf", SanitizePathComponent(`..\evil.pdf`))
	require.Equal(t, "Lab 3", SanitizePathComponent("Lab    3"))
	require.Equal(t, "Lab3", SanitizePathComponent("Lab\x00\x1f3"))
	require.Equal(t, "unnamed", SanitizePathComponent("  ..  "))
	require.Equal(t, "unnamed", SanitizePathComponent(""))
}
