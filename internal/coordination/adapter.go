// Package coordination reads ceremony/circuit/participant documents from
// the shared coordination store, subscribes to their changes, and invokes
// the server-side callables that are the client's only way to mutate
// ceremony state. This package only speaks the narrow contract the core
// needs; the store's deployment, authentication, and transport details
// live below Adapter.
package coordination

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/zkceremony/contributor/internal/ceremony"
)

// DocumentSnapshot is a generic, possibly-empty view of one coordination
// document. An empty snapshot is a soft error the caller interprets, not a
// transport failure.
type DocumentSnapshot struct {
	Exists bool
	Data   map[string]any
}

// Unsubscribe cancels a previously registered subscription. It is always
// safe to call more than once.
type Unsubscribe func()

// SnapshotCallback receives document snapshots in commit order per ref;
// delivery is at-least-once, so callbacks must be idempotent under
// redelivery of equivalent state.
type SnapshotCallback func(DocumentSnapshot)

// Adapter is the full surface the contribution core needs from the
// coordination store: document reads/subscriptions plus the idempotent
// server callables.
type Adapter interface {
	// GetDoc fetches a single document snapshot. A not-found document is
	// returned as DocumentSnapshot{Exists: false}, not an error.
	GetDoc(ctx context.Context, path string) (DocumentSnapshot, error)

	// Subscribe registers cb to be invoked with every subsequent snapshot of
	// the document at path, in commit order. Ordering across different paths
	// is not guaranteed.
	Subscribe(ctx context.Context, path string, cb SnapshotCallback) (Unsubscribe, error)

	// ListDocs returns every document currently in the collection at path,
	// e.g. a participant's timeouts or a circuit's contributions.
	ListDocs(ctx context.Context, collectionPath string) ([]DocumentSnapshot, error)

	// CheckParticipantForCeremony reports whether the calling identity is
	// allowed to participate in the given ceremony right now.
	CheckParticipantForCeremony(ctx context.Context, ceremonyID string) (bool, error)

	// ProgressToNextCircuitForContribution advances the participant to the
	// next circuit in sequence (or DONE, if exhausted).
	ProgressToNextCircuitForContribution(ctx context.Context, ceremonyID string) error

	// ProgressToNextContributionStep advances the participant's
	// contributionStep to the next step in the DOWNLOAD/COMPUTE/UPLOAD/VERIFY
	// progression.
	ProgressToNextContributionStep(ctx context.Context, ceremonyID string) error

	// PermanentlyStoreCurrentContributionTimeAndHash records the timing and
	// hash of a just-completed COMPUTING step.
	PermanentlyStoreCurrentContributionTimeAndHash(ctx context.Context, ceremonyID string, timeMs int64, hash string) error

	// RecordUploadedPart persists one acknowledged multipart-upload part
	// into tempContributionData so a later resumption can skip it. It keeps
	// tempContributionData in sync with what the object store actually
	// holds, modeled as its own idempotent callable.
	RecordUploadedPart(ctx context.Context, ceremonyID string, part ceremony.UploadedPart) error

	// VerifyContribution asks the server to verify the uploaded zKey for the
	// given circuit and bucket.
	VerifyContribution(ctx context.Context, ceremonyID, circuitID, bucket, contributorID, verifyURL string) error

	// ResumeContributionAfterTimeoutExpiration re-admits an EXHUMED
	// participant to the circuit they timed out on.
	ResumeContributionAfterTimeoutExpiration(ctx context.Context, ceremonyID string) error
}

// Paths builds the coordination-store document paths for one ceremony.
type Paths struct {
	CeremonyID string
}

func (p Paths) Ceremony() string {
	return "ceremonies/" + p.CeremonyID
}

func (p Paths) Participant(participantID string) string {
	return p.Ceremony() + "/participants/" + participantID
}

func (p Paths) Circuits() string {
	return p.Ceremony() + "/circuits"
}

func (p Paths) Circuit(circuitID string) string {
	return p.Circuits() + "/" + circuitID
}

func (p Paths) Timeouts(participantID string) string {
	return p.Participant(participantID) + "/timeouts"
}

func (p Paths) Contributions(circuitID string) string {
	return p.Circuit(circuitID) + "/contributions"
}

// ErrEmptyDocument is the trace.NotFound error Require returns for an empty
// snapshot, for callers that require the document to exist. GetDoc itself
// never returns it.
var ErrEmptyDocument = trace.NotFound("document does not exist")

// Require turns an empty snapshot into ErrEmptyDocument, leaving a populated
// snapshot untouched.
func Require(snap DocumentSnapshot, err error) (DocumentSnapshot, error) {
	if err != nil {
		return snap, err
	}
	if !snap.Exists {
		return snap, trace.Wrap(ErrEmptyDocument)
	}
	return snap, nil
}
