package ceremony

import (
	"fmt"
	"time"
)

// DecodeParticipant converts a coordination-store document payload (as
// returned by coordination.DocumentSnapshot.Data) into a Participant. It is
// tolerant of the dynamically-typed nature of the store: missing fields
// decode to their zero value rather than erroring, since the server record
// is authoritative and a client-side decode mismatch should degrade, not
// crash, the dispatcher.
func DecodeParticipant(id string, data map[string]any) Participant {
	p := Participant{
		ID:                   id,
		Status:               parseStatus(str(data["status"])),
		ContributionProgress: int(num(data["contributionProgress"])),
		ContributionStep:     parseStep(str(data["contributionStep"])),
	}
	if raw, ok := data["contributions"].([]any); ok {
		for _, c := range raw {
			if m, ok := c.(map[string]any); ok {
				p.Contributions = append(p.Contributions, Contribution{
					CircuitID: str(m["circuitId"]),
					ZkeyIndex: str(m["zkeyIndex"]),
					Hash:      str(m["hash"]),
					TimeMs:    int64(num(m["timeMs"])),
					Valid:     bl(m["valid"]),
				})
			}
		}
	}
	if raw, ok := data["tempContributionData"].(map[string]any); ok {
		if parts, ok := raw["uploadedParts"].([]any); ok {
			for _, pr := range parts {
				if m, ok := pr.(map[string]any); ok {
					p.TempContributionData = append(p.TempContributionData, UploadedPart{
						PartNumber: int(num(m["partNumber"])),
						ETag:       str(m["etag"]),
					})
				}
			}
		}
	}
	return p
}

// DecodeCircuit converts a coordination-store document payload into a
// Circuit.
func DecodeCircuit(id string, data map[string]any) Circuit {
	c := Circuit{
		ID:               id,
		SequencePosition: int(num(data["sequencePosition"])),
		Prefix:           str(data["prefix"]),
	}
	if at, ok := data["avgTimings"].(map[string]any); ok {
		c.AvgTimings = AvgTimings{
			FullContribution:    time.Duration(num(at["fullContribution"])) * time.Millisecond,
			VerifyCloudFunction: time.Duration(num(at["verifyCloudFunction"])) * time.Millisecond,
		}
	}
	if wq, ok := data["waitingQueue"].(map[string]any); ok {
		c.WaitingQueue.CurrentContributor = str(wq["currentContributor"])
		c.WaitingQueue.CompletedContributions = int(num(wq["completedContributions"]))
		if raw, ok := wq["contributors"].([]any); ok {
			for _, v := range raw {
				c.WaitingQueue.Contributors = append(c.WaitingQueue.Contributors, str(v))
			}
		}
	}
	return c
}

// DecodeTimeout converts a coordination-store document payload into a
// Timeout.
func DecodeTimeout(data map[string]any) Timeout {
	switch v := data["endDate"].(type) {
	case time.Time:
		return Timeout{EndDate: v}
	case float64:
		return Timeout{EndDate: time.UnixMilli(int64(v))}
	default:
		return Timeout{}
	}
}

func parseStatus(s string) Status {
	switch s {
	case "WAITING":
		return StatusWaiting
	case "CONTRIBUTING":
		return StatusContributing
	case "CONTRIBUTED":
		return StatusContributed
	case "DONE":
		return StatusDone
	case "TIMEDOUT":
		return StatusTimedOut
	case "EXHUMED":
		return StatusExhumed
	default:
		return StatusUnknown
	}
}

func parseStep(s string) Step {
	switch s {
	case "DOWNLOADING":
		return StepDownloading
	case "COMPUTING":
		return StepComputing
	case "UPLOADING":
		return StepUploading
	case "VERIFYING":
		return StepVerifying
	case "COMPLETED":
		return StepCompleted
	default:
		return StepNone
	}
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

func bl(v any) bool {
	b, _ := v.(bool)
	return b
}
