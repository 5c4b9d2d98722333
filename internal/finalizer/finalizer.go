// Package finalizer generates a signed attestation of a participant's
// contributions across every circuit of a ceremony, publishes it, and
// returns a shareable reference.
package finalizer

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/go-github/v37/github"
	"github.com/gravitational/trace"

	"github.com/zkceremony/contributor/internal/ceremony"
)

// Request bundles everything needed to build and publish one participant's
// attestation.
type Request struct {
	Ceremony      ceremony.Ceremony
	ParticipantID string
	ContributorID string // display name shown in the attestation text
	Contributions []ceremony.Contribution
}

// Finalizer builds an attestation, publishes it through the identity
// provider's paste/gist endpoint, and derives a share reference.
type Finalizer interface {
	Publish(ctx context.Context, req Request) (shareRef string, err error)
}

// GitHubFinalizer publishes the attestation as a GitHub gist, using the
// identity provider token obtained during the OAuth2 login flow (which
// requests the gist scope for exactly this purpose).
type GitHubFinalizer struct {
	Client *github.Client
}

func NewGitHubFinalizer(client *github.Client) *GitHubFinalizer {
	return &GitHubFinalizer{Client: client}
}

var _ Finalizer = (*GitHubFinalizer)(nil)

// Publish implements Finalizer.
func (f *GitHubFinalizer) Publish(ctx context.Context, req Request) (string, error) {
	text := BuildAttestationText(req)

	description := fmt.Sprintf("Attestation for contributions to %s", req.Ceremony.Title)
	public := false
	filename := fmt.Sprintf("%s_attestation.log", req.Ceremony.Prefix)

	gist, _, err := f.Client.Gists.Create(ctx, &github.Gist{
		Description: &description,
		Public:      &public,
		Files: map[github.GistFilename]github.GistFile{
			github.GistFilename(filename): {Content: &text},
		},
	})
	if err != nil {
		return "", trace.Wrap(err, "publishing attestation gist")
	}

	return shareURL(gist.GetHTMLURL(), req.Ceremony.Title), nil
}

// BuildAttestationText enumerates, for each circuit in sequence, the
// contribution hash and zKey index recorded for the participant.
func BuildAttestationText(req Request) string {
	byCircuit := make(map[string]ceremony.Contribution, len(req.Contributions))
	for _, c := range req.Contributions {
		byCircuit[c.CircuitID] = c
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s Attestation\n", req.Ceremony.Title)
	fmt.Fprintf(&b, "Contributor: %s (%s)\n\n", req.ContributorID, req.ParticipantID)

	for _, circuit := range req.Ceremony.Circuits {
		c, ok := byCircuit[circuit.ID]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "Circuit: %s\n", circuit.ID)
		fmt.Fprintf(&b, "  zKey index: %s\n", c.ZkeyIndex)
		fmt.Fprintf(&b, "  Hash: %s\n\n", c.Hash)
	}

	return b.String()
}

// shareURL derives a social-share URL referencing the published gist.
func shareURL(gistURL, ceremonyTitle string) string {
	text := fmt.Sprintf("I contributed to the %s trusted setup ceremony!", ceremonyTitle)
	return fmt.Sprintf("https://twitter.com/intent/tweet?text=%s&url=%s", url.QueryEscape(text), url.QueryEscape(gistURL))
}
