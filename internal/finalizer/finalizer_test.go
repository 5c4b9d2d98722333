package finalizer

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zkceremony/contributor/internal/ceremony"
)

func TestBuildAttestationTextOrdersByCircuitSequence(t *testing.T) {
	req := Request{
		Ceremony: ceremony.Ceremony{
			Title: "Example Ceremony",
			Circuits: []ceremony.Circuit{
				{ID: "c1", SequencePosition: 1},
				{ID: "c2", SequencePosition: 2},
			},
		},
		ParticipantID: "participant-1",
		ContributorID: "alice",
		Contributions: []ceremony.Contribution{
			{CircuitID: "c2", ZkeyIndex: "00002", Hash: "deadbeef"},
			{CircuitID: "c1", ZkeyIndex: "00001", Hash: "cafebabe"},
		},
	}

	text := BuildAttestationText(req)
	require.Contains(t, text, "Example Ceremony Attestation")
	require.Contains(t, text, "alice (participant-1)")

	c1Idx := indexOf(t, text, "Circuit: c1")
	c2Idx := indexOf(t, text, "Circuit: c2")
	require.Less(t, c1Idx, c2Idx)
}

func TestBuildAttestationTextSkipsCircuitsWithoutAContribution(t *testing.T) {
	req := Request{
		Ceremony: ceremony.Ceremony{
			Title:    "Example",
			Circuits: []ceremony.Circuit{{ID: "c1", SequencePosition: 1}, {ID: "c2", SequencePosition: 2}},
		},
		Contributions: []ceremony.Contribution{{CircuitID: "c1", ZkeyIndex: "00001", Hash: "hash1"}},
	}
	text := BuildAttestationText(req)
	require.Contains(t, text, "Circuit: c1")
	require.NotContains(t, text, "Circuit: c2")
}

func TestShareURLEscapesTitleAndURL(t *testing.T) {
	url := shareURL("https://gist.github.com/abc?x=1&y=2", "My Ceremony")
	require.Contains(t, url, "https://twitter.com/intent/tweet?text=")
	require.Contains(t, url, "gist.github.com")
	require.NotContains(t, url, " ")
}

func indexOf(t *testing.T, haystack, needle string) int {
	t.Helper()
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	t.Fatalf("expected to find %q in %q", needle, haystack)
	return -1
}
