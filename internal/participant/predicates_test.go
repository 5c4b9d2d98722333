package participant

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zkceremony/contributor/internal/ceremony"
)

func circuitSet() []ceremony.Circuit {
	return []ceremony.Circuit{
		{ID: "c1", SequencePosition: 1, WaitingQueue: ceremony.WaitingQueue{CurrentContributor: "alice"}},
		{ID: "c2", SequencePosition: 2},
	}
}

func TestComputeIsCurrentContributor(t *testing.T) {
	cur := ceremony.Participant{ID: "alice", Status: ceremony.StatusContributing, ContributionProgress: 1}
	pred := Compute(nil, cur, circuitSet())
	require.True(t, pred.IsCurrentContributor)
	require.True(t, pred.HasCircuit)
	require.Equal(t, "c1", pred.Circuit.ID)
}

func TestComputeNotCurrentContributorWhenQueueDisagrees(t *testing.T) {
	cur := ceremony.Participant{ID: "bob", Status: ceremony.StatusContributing, ContributionProgress: 1}
	pred := Compute(nil, cur, circuitSet())
	require.False(t, pred.IsCurrentContributor)
}

func TestComputeAlreadyContributedToEveryCircuit(t *testing.T) {
	cur := ceremony.Participant{
		ID:                   "alice",
		Status:               ceremony.StatusDone,
		ContributionStep:     ceremony.StepCompleted,
		ContributionProgress: 2,
		Contributions:        []ceremony.Contribution{{CircuitID: "c1"}, {CircuitID: "c2"}},
	}
	pred := Compute(nil, cur, circuitSet())
	require.True(t, pred.AlreadyContributedToEveryCircuit)
}

func TestStartingOrResumingDownloadFromFreshParticipant(t *testing.T) {
	cur := ceremony.Participant{ID: "alice", Status: ceremony.StatusContributing, ContributionStep: ceremony.StepDownloading}
	pred := Compute(nil, cur, circuitSet())
	require.True(t, pred.StartingOrResumingContribution)
}

func TestStartingOrResumingDownloadIsFalseOnRedelivery(t *testing.T) {
	prev := ceremony.Participant{ID: "alice", Status: ceremony.StatusContributing, ContributionStep: ceremony.StepDownloading}
	cur := prev
	pred := Compute(&prev, cur, circuitSet())
	require.False(t, pred.StartingOrResumingContribution)
}

func TestStartingOrResumingUploadFromFreshParticipant(t *testing.T) {
	cur := ceremony.Participant{ID: "alice", Status: ceremony.StatusContributing, ContributionStep: ceremony.StepUploading}
	pred := Compute(nil, cur, circuitSet())
	require.True(t, pred.StartingOrResumingContribution)
	require.True(t, pred.HasResumableStep)
}

func TestStartingOrResumingUploadMatchesOnIdenticalParts(t *testing.T) {
	parts := []ceremony.UploadedPart{{PartNumber: 1, ETag: "a"}, {PartNumber: 2, ETag: "b"}}
	prev := ceremony.Participant{
		ID: "alice", Status: ceremony.StatusContributing, ContributionStep: ceremony.StepUploading,
		TempContributionData: parts,
	}
	cur := prev
	cur.TempContributionData = append([]ceremony.UploadedPart{}, parts...)
	pred := Compute(&prev, cur, circuitSet())
	require.True(t, pred.StartingOrResumingContribution)
}

func TestStartingOrResumingUploadFailsOnDifferentParts(t *testing.T) {
	prev := ceremony.Participant{
		ID: "alice", Status: ceremony.StatusContributing, ContributionStep: ceremony.StepUploading,
		TempContributionData: []ceremony.UploadedPart{{PartNumber: 1, ETag: "a"}},
	}
	cur := prev
	cur.TempContributionData = []ceremony.UploadedPart{{PartNumber: 1, ETag: "different"}}
	pred := Compute(&prev, cur, circuitSet())
	require.False(t, pred.StartingOrResumingContribution)
}

func TestSameBasicStateRequiresPrev(t *testing.T) {
	cur := ceremony.Participant{Status: ceremony.StatusWaiting}
	require.False(t, sameBasicState(nil, cur))
}
