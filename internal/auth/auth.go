// Package auth implements an OAuth2 authorization-code flow against GitHub,
// with the resulting token and display name persisted in local key-value
// storage under "token" and "username".
package auth

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/google/go-github/v37/github"
	"github.com/gravitational/trace"
	"golang.org/x/oauth2"
	githuboauth "golang.org/x/oauth2/github"
)

// Scopes requested from GitHub: gist (publish the attestation) and
// read:user (reputation gating, display name).
var Scopes = []string{"gist", "read:user"}

// Config builds the oauth2.Config for the authorization-code flow.
func Config(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       Scopes,
		Endpoint:     githuboauth.Endpoint,
	}
}

// record is the on-disk shape of the local key-value token store.
type record struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// Store persists the OAuth token and display name across process restarts.
// Its lifecycle is login (Save) -> logout (Clear).
type Store struct {
	path string
}

// NewStore returns a Store backed by a file under dir (typically the user's
// config directory).
func NewStore(dir string) *Store {
	return &Store{path: filepath.Join(dir, "credentials.json")}
}

// Save persists the token and username, overwriting any previous session.
func (s *Store) Save(token, username string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return trace.Wrap(err, "creating credential directory")
	}
	data, err := json.Marshal(record{Token: token, Username: username})
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(os.WriteFile(s.path, data, 0o600))
}

// Load reads the persisted token and username. It returns ok=false, not an
// error, if no session has been saved.
func (s *Store) Load() (token, username string, ok bool, err error) {
	data, readErr := os.ReadFile(s.path)
	if os.IsNotExist(readErr) {
		return "", "", false, nil
	}
	if readErr != nil {
		return "", "", false, trace.Wrap(readErr, "reading credential store")
	}
	var r record
	if err := json.Unmarshal(data, &r); err != nil {
		return "", "", false, trace.Wrap(err, "decoding credential store")
	}
	if r.Token == "" {
		return "", "", false, nil
	}
	return r.Token, r.Username, true, nil
}

// Clear removes a persisted session (logout).
func (s *Store) Clear() error {
	err := os.Remove(s.path)
	if err != nil && !os.IsNotExist(err) {
		return trace.Wrap(err, "clearing credential store")
	}
	return nil
}

// TokenSource wraps a static bearer token (read from the Store) as an
// oauth2.TokenSource so it can be shared between the GitHub client and the
// coordination callable client.
func TokenSource(token string) oauth2.TokenSource {
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
}

// NewGitHubClient builds a github.Client authenticated with the stored
// token.
func NewGitHubClient(ctx context.Context, token string) *github.Client {
	httpClient := oauth2.NewClient(ctx, TokenSource(token))
	return github.NewClient(httpClient)
}

// ResolveUserID returns the identity-provider user id (GitHub login) for
// the given client, used as the contributor id in contribution submissions.
func ResolveUserID(ctx context.Context, client *github.Client) (string, error) {
	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		return "", trace.Wrap(err, "resolving identity provider user id")
	}
	return user.GetLogin(), nil
}
