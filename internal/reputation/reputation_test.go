package reputation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/google/go-github/v37/github"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T, repos, followers, following int) *github.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(github.User{
			PublicRepos: &repos,
			Followers:   &followers,
			Following:   &following,
		})
	}))
	t.Cleanup(srv.Close)

	client := github.NewClient(srv.Client())
	base, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	client.BaseURL = base
	return client
}

func TestCheckPassesWhenAboveThresholds(t *testing.T) {
	client := testClient(t, 5, 10, 2)
	ok, err := Check(context.Background(), client, Thresholds{MinRepos: 2, MinFollowers: 1, MinFollowing: 1})
	require.NoError(t, err)
	require.True(t, ok)
}

func TestCheckFailsWhenBelowThresholds(t *testing.T) {
	client := testClient(t, 0, 0, 0)
	ok, err := Check(context.Background(), client, Thresholds{MinRepos: 2, MinFollowers: 1, MinFollowing: 1})
	require.NoError(t, err)
	require.False(t, ok)
}

func TestThresholdsString(t *testing.T) {
	th := Thresholds{MinRepos: 2, MinFollowers: 1, MinFollowing: 1}
	require.Contains(t, th.String(), "2 public repositories")
}
