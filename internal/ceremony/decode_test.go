package ceremony

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeParticipant(t *testing.T) {
	data := map[string]any{
		"status":                "CONTRIBUTING",
		"contributionProgress":  float64(2),
		"contributionStep":      "UPLOADING",
		"contributions": []any{
			map[string]any{"circuitId": "c1", "zkeyIndex": "00001", "hash": "deadbeef", "timeMs": float64(1234), "valid": true},
		},
		"tempContributionData": map[string]any{
			"uploadedParts": []any{
				map[string]any{"partNumber": float64(1), "etag": "abc"},
			},
		},
	}

	p := DecodeParticipant("participant-1", data)
	require.Equal(t, "participant-1", p.ID)
	require.Equal(t, StatusContributing, p.Status)
	require.Equal(t, 2, p.ContributionProgress)
	require.Equal(t, StepUploading, p.ContributionStep)
	require.Len(t, p.Contributions, 1)
	require.Equal(t, "c1", p.Contributions[0].CircuitID)
	require.True(t, p.Contributions[0].Valid)
	require.Len(t, p.TempContributionData, 1)
	require.Equal(t, "abc", p.TempContributionData[0].ETag)
}

func TestDecodeParticipantToleratesMissingFields(t *testing.T) {
	p := DecodeParticipant("p1", map[string]any{})
	require.Equal(t, StatusUnknown, p.Status)
	require.Equal(t, StepNone, p.ContributionStep)
	require.Empty(t, p.Contributions)
}

func TestDecodeCircuit(t *testing.T) {
	data := map[string]any{
		"sequencePosition": float64(3),
		"prefix":           "circuitA",
		"avgTimings": map[string]any{
			"fullContribution":    float64(60000),
			"verifyCloudFunction": float64(5000),
		},
		"waitingQueue": map[string]any{
			"currentContributor":     "alice",
			"completedContributions": float64(7),
			"contributors":           []any{"alice", "bob"},
		},
	}

	c := DecodeCircuit("c1", data)
	require.Equal(t, 3, c.SequencePosition)
	require.Equal(t, "circuitA", c.Prefix)
	require.Equal(t, 60*time.Second, c.AvgTimings.FullContribution)
	require.Equal(t, "alice", c.WaitingQueue.CurrentContributor)
	require.Equal(t, 7, c.WaitingQueue.CompletedContributions)
	require.Equal(t, []string{"alice", "bob"}, c.WaitingQueue.Contributors)
}

func TestDecodeTimeout(t *testing.T) {
	now := time.Now().Truncate(time.Millisecond)
	got := DecodeTimeout(map[string]any{"endDate": float64(now.UnixMilli())})
	require.Equal(t, now.UnixMilli(), got.EndDate.UnixMilli())
}

func TestSameParts(t *testing.T) {
	a := []UploadedPart{{PartNumber: 1, ETag: "x"}, {PartNumber: 2, ETag: "y"}}
	b := []UploadedPart{{PartNumber: 2, ETag: "y"}, {PartNumber: 1, ETag: "x"}}
	require.True(t, SameParts(a, b))

	c := []UploadedPart{{PartNumber: 1, ETag: "different"}}
	require.False(t, SameParts(a, c))
}
