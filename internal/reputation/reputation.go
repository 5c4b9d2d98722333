// Package reputation implements the reputation gate: a contributor's GitHub
// profile must pass configured thresholds (minimum repos, followers,
// following) before a session is allowed to start.
package reputation

import (
	"context"
	"fmt"

	"github.com/google/go-github/v37/github"
	"github.com/gravitational/trace"
)

// Thresholds are the configured minimums a contributor's GitHub profile
// must meet.
type Thresholds struct {
	MinRepos     int
	MinFollowers int
	MinFollowing int
}

// String renders the threshold-explanation status emitted on gate failure.
func (t Thresholds) String() string {
	return fmt.Sprintf(
		"your GitHub account must have at least %d public repositories, %d followers, and %d following to participate",
		t.MinRepos, t.MinFollowers, t.MinFollowing,
	)
}

// Check reports whether the authenticated GitHub user meets every
// threshold.
func Check(ctx context.Context, client *github.Client, thresholds Thresholds) (bool, error) {
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return false, trace.Wrap(err, "fetching GitHub profile")
	}

	if user.GetPublicRepos() < thresholds.MinRepos {
		return false, nil
	}
	if user.GetFollowers() < thresholds.MinFollowers {
		return false, nil
	}
	if user.GetFollowing() < thresholds.MinFollowing {
		return false, nil
	}
	return true, nil
}
