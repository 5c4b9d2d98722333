// Package config implements the configuration surface of the contribution
// client: reputation thresholds, the verify-contribution endpoint, the
// bucket postfix, and a terms table mapping logical collection names to
// storage paths.
package config

import (
	"encoding/json"
	"os"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/gravitational/trace"
	"github.com/kelseyhightower/envconfig"

	"github.com/zkceremony/contributor/internal/reputation"
)

// Config is read from the environment, and a default covers anything unset.
// No command line flag overrides these fields.
type Config struct {
	GitHubRepos            int    `envconfig:"GITHUB_REPOS" default:"2"`
	GitHubFollowers         int    `envconfig:"GITHUB_FOLLOWERS" default:"1"`
	GitHubFollowing         int    `envconfig:"GITHUB_FOLLOWING" default:"1"`
	VerifyContributionURL   string `envconfig:"VERIFY_CONTRIBUTION_URL"`
	BucketPostfix           string `envconfig:"BUCKET_POSTFIX" default:".contributions"`
	GitHubClientID          string `envconfig:"GITHUB_CLIENT_ID"`
	GitHubClientSecret      string `envconfig:"GITHUB_CLIENT_SECRET"`
	CoordinationBaseURL     string `envconfig:"COORDINATION_BASE_URL"`
	FirestoreProjectID      string `envconfig:"FIRESTORE_PROJECT_ID"`
	S3Endpoint              string `envconfig:"S3_ENDPOINT"`
	S3AccessKeyID           string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretAccessKey       string `envconfig:"S3_SECRET_ACCESS_KEY"`
}

// Load reads Config from the process environment.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, trace.Wrap(err, "loading configuration")
	}
	return c, nil
}

// Thresholds projects the reputation-gate thresholds out of Config.
func (c Config) Thresholds() reputation.Thresholds {
	return reputation.Thresholds{
		MinRepos:     c.GitHubRepos,
		MinFollowers: c.GitHubFollowers,
		MinFollowing: c.GitHubFollowing,
	}
}

// Terms maps logical collection names used throughout the client's
// components to the coordination store's actual storage paths. It defaults
// to the identity mapping; deployments that rename collections override
// entries here.
type Terms map[string]string

// DefaultTerms is the identity mapping used when no terms file is supplied.
func DefaultTerms() Terms {
	return Terms{
		"ceremonies":    "ceremonies",
		"participants":  "participants",
		"circuits":      "circuits",
		"timeouts":      "timeouts",
		"contributions": "contributions",
	}
}

// Resolve looks up the storage path for a logical collection name. An exact
// key always wins. Otherwise keys in the terms table may be doublestar glob
// patterns (e.g. "ceremonies/*/circuits/*") matched against logicalName;
// when more than one pattern matches, which one wins is not defined. Falls
// back to the name itself if no entry matches.
func (t Terms) Resolve(logicalName string) string {
	if path, ok := t[logicalName]; ok {
		return path
	}
	for pattern, path := range t {
		if ok, _ := doublestar.Match(pattern, logicalName); ok {
			return path
		}
	}
	return logicalName
}

// LoadTermsFile reads a JSON terms table (logical name/glob pattern ->
// storage path) from disk, overlaying it on DefaultTerms.
func LoadTermsFile(path string) (Terms, error) {
	terms := DefaultTerms()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.Wrap(err, "reading terms file %s", path)
	}
	var overrides Terms
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, trace.Wrap(err, "decoding terms file %s", path)
	}
	for k, v := range overrides {
		terms[k] = v
	}
	return terms, nil
}
