package participant

import "github.com/zkceremony/contributor/internal/ceremony"

// Predicates materializes the normal form of the dispatch rule table as a
// struct of booleans, so dispatch can be a flat series of checks rather
// than nested conditionals.
type Predicates struct {
	IsWaiting                          bool
	IsCurrentContributor               bool
	ProgressToNext                     bool
	CompletedContribution              bool
	TimeoutTriggeredWhileContributing  bool
	TimeoutExpired                     bool
	AlreadyContributedToEveryCircuit   bool
	HasResumableStep                   bool
	StartingOrResumingContribution     bool
	HasCircuit                         bool
	Circuit                            ceremony.Circuit
}

// Compute derives Predicates from the previous and current participant
// snapshots (prev is nil on the very first delivery) and the ceremony's
// ordered circuit list.
func Compute(prev *ceremony.Participant, cur ceremony.Participant, circuits []ceremony.Circuit) Predicates {
	var p Predicates

	p.IsWaiting = cur.Status == ceremony.StatusWaiting

	if cur.ContributionProgress >= 1 && cur.ContributionProgress <= len(circuits) {
		p.HasCircuit = true
		p.Circuit = circuits[cur.ContributionProgress-1]
	}

	p.IsCurrentContributor = cur.Status == ceremony.StatusContributing &&
		p.HasCircuit && p.Circuit.WaitingQueue.CurrentContributor == cur.ID

	p.ProgressToNext = cur.ContributionStep == ceremony.StepCompleted
	p.CompletedContribution = p.ProgressToNext && cur.Status == ceremony.StatusContributed

	p.TimeoutTriggeredWhileContributing = cur.Status == ceremony.StatusTimedOut && cur.ContributionStep != ceremony.StepCompleted
	p.TimeoutExpired = cur.Status == ceremony.StatusExhumed

	p.AlreadyContributedToEveryCircuit = cur.Status == ceremony.StatusDone &&
		cur.ContributionStep == ceremony.StepCompleted &&
		cur.ContributionProgress == len(circuits) &&
		len(cur.Contributions) == len(circuits)

	switch cur.ContributionStep {
	case ceremony.StepDownloading, ceremony.StepComputing, ceremony.StepUploading:
		p.HasResumableStep = true
	}

	p.StartingOrResumingContribution = startingOrResuming(prev, cur)

	return p
}

func sameBasicState(prev *ceremony.Participant, cur ceremony.Participant) bool {
	return prev != nil &&
		prev.Status == cur.Status &&
		prev.ContributionStep == cur.ContributionStep &&
		prev.ContributionProgress == cur.ContributionProgress
}

// startingOrResuming is a four-way predicate over the current contribution
// step: exactly one branch should hold for the transition to be a
// legitimate start or resume of a contribution, as opposed to, say, a
// redelivery of an already-handled snapshot or an unrelated field change.
func startingOrResuming(prev *ceremony.Participant, cur ceremony.Participant) bool {
	switch cur.ContributionStep {
	case ceremony.StepDownloading:
		return prev == nil ||
			!sameBasicState(prev, cur) ||
			prev.ContributionStep != cur.ContributionStep ||
			prev.Status == ceremony.StatusExhumed ||
			prev.ContributionStep == ceremony.StepNone

	case ceremony.StepComputing:
		return sameBasicState(prev, cur) && len(prev.Contributions) == len(cur.Contributions)

	case ceremony.StepUploading:
		// A fresh first delivery at UPLOADING (no prior snapshot at all) is a
		// legitimate start, same as StepDownloading's prev == nil case. A
		// redelivery must match tempContributionData exactly, whether that
		// means both empty (upload not yet begun) or an identical non-empty
		// part set (resuming mid-upload at the first un-acknowledged part).
		return prev == nil ||
			(sameBasicState(prev, cur) && ceremony.SameParts(prev.TempContributionData, cur.TempContributionData))

	default:
	}

	if prev != nil && len(prev.TempContributionData) > 0 && len(cur.TempContributionData) > 0 {
		return ceremony.SameParts(prev.TempContributionData, cur.TempContributionData)
	}

	return false
}
