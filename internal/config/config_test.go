package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultTermsResolvesIdentity(t *testing.T) {
	terms := DefaultTerms()
	require.Equal(t, "ceremonies", terms.Resolve("ceremonies"))
	require.Equal(t, "unknown-thing", terms.Resolve("unknown-thing"))
}

func TestTermsResolveMatchesGlobPattern(t *testing.T) {
	terms := Terms{"ceremonies/*/circuits/*": "storage/circuits"}
	require.Equal(t, "storage/circuits", terms.Resolve("ceremonies/c1/circuits/x"))
	require.Equal(t, "something-else", terms.Resolve("something-else"))
}

func TestTermsResolvePrefersExactKeyOverGlob(t *testing.T) {
	terms := Terms{
		"ceremonies/*": "glob-path",
		"ceremonies/1": "exact-path",
	}
	require.Equal(t, "exact-path", terms.Resolve("ceremonies/1"))
}

func TestThresholdsFromConfig(t *testing.T) {
	c := Config{GitHubRepos: 2, GitHubFollowers: 5, GitHubFollowing: 1}
	th := c.Thresholds()
	require.Equal(t, 2, th.MinRepos)
	require.Equal(t, 5, th.MinFollowers)
	require.Equal(t, 1, th.MinFollowing)
}
