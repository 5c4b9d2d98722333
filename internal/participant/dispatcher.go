// Package participant implements the participant state machine: it
// classifies each change to a participant document and dispatches the
// correct action: progress the circuit, start or resume the contribution
// pipeline, attach the queue observer, handle a timeout, or finalize.
package participant

import (
	"context"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/zkceremony/contributor/internal/ceremony"
	"github.com/zkceremony/contributor/internal/clog"
	"github.com/zkceremony/contributor/internal/coordination"
	"github.com/zkceremony/contributor/internal/finalizer"
	"github.com/zkceremony/contributor/internal/pipeline"
	"github.com/zkceremony/contributor/internal/queue"
	"github.com/zkceremony/contributor/internal/status"
	"github.com/zkceremony/contributor/internal/timeutil"
)

// progressSettleDelay is the short pause after requesting
// progressToNextCircuitForContribution before the next snapshot is expected
// to reflect it. Tests shrink it to keep runs fast.
var progressSettleDelay = 2 * time.Second

// Dispatcher subscribes to one participant's document for the lifetime of a
// contribution session and drives every other component in reaction to its
// changes.
//
// PipelineBase carries the pipeline fields that do not vary per snapshot:
// the storage adapter, the zKey contributor, the sink, bucket postfix,
// verify URL and cache dir. Before each pipeline.RunOrResume call the
// dispatcher fills in CeremonyID, Ceremony, Circuit, ContributorID and
// Coordination from its own fields.
type Dispatcher struct {
	CeremonyID    string
	Ceremony      ceremony.Ceremony
	ContributorID string

	Coordination coordination.Adapter
	PipelineBase pipeline.Params
	Finalizer    finalizer.Finalizer
	Sink         status.Sink

	prev             *ceremony.Participant
	queueUnsubscribe coordination.Unsubscribe
	done             chan struct{}
	log              *clog.CLogger
}

// logger returns d.log, initializing it on first use so that tests which
// call dispatch directly (bypassing Attach) do not need to set it up.
func (d *Dispatcher) logger() *clog.CLogger {
	if d.log == nil {
		d.log = clog.New(logrus.Fields{"component": "dispatcher"})
	}
	return d.log
}

// Attach subscribes the dispatcher to the participant document at
// ceremonies/{ceremonyId}/participants/{participantId} and begins reacting
// to its changes. It returns once the subscription has been registered; the
// returned channel is closed when the dispatcher reaches a terminal state
// (DONE+finalized, or an unrecoverable error) and unsubscribes itself.
func (d *Dispatcher) Attach(ctx context.Context, participantID string) (<-chan struct{}, error) {
	d.done = make(chan struct{})
	d.log = clog.New(logrus.Fields{"component": "dispatcher", "participant": participantID})
	paths := coordination.Paths{CeremonyID: d.CeremonyID}

	var unsub coordination.Unsubscribe
	var finished bool

	unsub, err := d.Coordination.Subscribe(ctx, paths.Participant(participantID), func(snap coordination.DocumentSnapshot) {
		if finished {
			return
		}
		if !snap.Exists {
			status.Message(d.Sink, "Error: participant record is missing")
			return
		}
		cur := ceremony.DecodeParticipant(participantID, snap.Data)
		terminate := d.dispatch(ctx, cur)
		d.prev = &cur
		if terminate {
			finished = true
			if d.queueUnsubscribe != nil {
				d.queueUnsubscribe()
			}
			if unsub != nil {
				unsub()
			}
			close(d.done)
		}
	})
	if err != nil {
		return nil, trace.Wrap(err, "subscribing to participant %s", participantID)
	}
	return d.done, nil
}

// dispatch applies the dispatch rule table against one snapshot. It
// returns true if the subscription should now terminate.
func (d *Dispatcher) dispatch(ctx context.Context, cur ceremony.Participant) bool {
	pred := Compute(d.prev, cur, d.Ceremony.Circuits)
	d.logger().Printf("dispatching snapshot: status=%s step=%s progress=%d", cur.Status, cur.ContributionStep, cur.ContributionProgress)

	// Rule 1.
	if cur.Status == ceremony.StatusWaiting &&
		cur.ContributionStep == ceremony.StepNone &&
		len(cur.Contributions) == 0 &&
		cur.ContributionProgress == 0 {
		if err := d.Coordination.ProgressToNextCircuitForContribution(ctx, d.CeremonyID); err != nil {
			status.Message(d.Sink, "Error progressing to next circuit: %v", err)
		}
		time.Sleep(progressSettleDelay)
	}

	// Rules 3/4 are mutually exclusive.
	if pred.IsCurrentContributor && pred.HasResumableStep && pred.StartingOrResumingContribution {
		d.runPipeline(ctx, cur, pred)
	} else if pred.IsWaiting {
		d.startQueueObserver(ctx, cur)
	}

	// Rule 5.
	if pred.IsCurrentContributor && cur.ContributionStep == ceremony.StepVerifying && sameBasicState(d.prev, cur) {
		status.Message(d.Sink, "Resuming verification of circuit %s", pred.Circuit.ID)
	}

	// Rule 6.
	if pred.ProgressToNext && sameBasicState(d.prev, cur) &&
		(cur.Status == ceremony.StatusDone || cur.Status == ceremony.StatusContributed) {
		emitLastVerification(d.Sink, cur, pred)
	}

	// Rule 7.
	if pred.TimeoutTriggeredWhileContributing {
		if d.handleTimeout(ctx, cur) {
			return true
		}
	}

	// Rule 8.
	if pred.CompletedContribution || pred.TimeoutExpired {
		d.progressAfterCompletionOrTimeout(ctx, cur, pred)
	}

	// Rule 9.
	if pred.AlreadyContributedToEveryCircuit {
		return d.finalize(ctx, cur)
	}

	return false
}

func (d *Dispatcher) runPipeline(ctx context.Context, cur ceremony.Participant, pred Predicates) {
	params := d.PipelineBase
	params.CeremonyID = d.CeremonyID
	params.Ceremony = d.Ceremony
	params.Circuit = pred.Circuit
	params.ContributorID = d.ContributorID
	params.Coordination = d.Coordination

	if err := pipeline.RunOrResume(ctx, params, cur); err != nil {
		status.Message(d.Sink, "Error running contribution pipeline for circuit %s: %v", pred.Circuit.ID, err)
	}
}

func (d *Dispatcher) startQueueObserver(ctx context.Context, cur ceremony.Participant) {
	if d.queueUnsubscribe != nil {
		return // already observing
	}
	if cur.ContributionProgress < 1 || cur.ContributionProgress > len(d.Ceremony.Circuits) {
		return
	}
	circuit := d.Ceremony.Circuits[cur.ContributionProgress-1]
	obs := queue.NewObserver(cur.ID, d.Sink)
	unsub, err := queue.Subscribe(ctx, d.Coordination, d.CeremonyID, circuit.ID, obs)
	if err != nil {
		status.Message(d.Sink, "Error observing queue for circuit %s: %v", circuit.ID, err)
		return
	}
	d.queueUnsubscribe = unsub
}

func emitLastVerification(sink status.Sink, cur ceremony.Participant, pred Predicates) {
	if !pred.HasCircuit || len(cur.Contributions) == 0 {
		return
	}
	for i := len(cur.Contributions) - 1; i >= 0; i-- {
		c := cur.Contributions[i]
		if c.CircuitID != pred.Circuit.ID {
			continue
		}
		if c.Valid {
			status.Message(sink, "Contribution to circuit %s verified successfully", pred.Circuit.ID)
		} else {
			status.Message(sink, "Contribution to circuit %s failed verification", pred.Circuit.ID)
		}
		return
	}
}

// handleTimeout handles a just-triggered timeout: exactly one active
// timeout is the only state the dispatcher can act on; zero or more than
// one is an invariant violation it cannot recover from, so it reports the
// error and signals termination.
func (d *Dispatcher) handleTimeout(ctx context.Context, cur ceremony.Participant) bool {
	paths := coordination.Paths{CeremonyID: d.CeremonyID}
	docs, err := d.Coordination.ListDocs(ctx, paths.Timeouts(cur.ID))
	if err != nil {
		status.Message(d.Sink, "Error reading active timeouts: %v", err)
		return true
	}
	if len(docs) != 1 {
		status.Message(d.Sink, "Error: expected exactly one active timeout, found %d", len(docs))
		return true
	}
	if !docs[0].Exists {
		status.Message(d.Sink, "Error: active timeout record is missing")
		return true
	}
	t := ceremony.DecodeTimeout(docs[0].Data)
	status.Message(d.Sink, "Timed out, resuming in %s", timeutil.FormatMillis(timeutil.Until(t.EndDate)))
	return false
}

func (d *Dispatcher) progressAfterCompletionOrTimeout(ctx context.Context, cur ceremony.Participant, pred Predicates) {
	if pred.CompletedContribution {
		emitLastVerification(d.Sink, cur, pred)
		if err := d.Coordination.ProgressToNextCircuitForContribution(ctx, d.CeremonyID); err != nil {
			status.Message(d.Sink, "Error progressing to next circuit: %v", err)
		}
		return
	}
	// TimeoutExpired (EXHUMED).
	if err := d.Coordination.ResumeContributionAfterTimeoutExpiration(ctx, d.CeremonyID); err != nil {
		status.Message(d.Sink, "Error resuming after timeout expiration: %v", err)
	}
}

func (d *Dispatcher) finalize(ctx context.Context, cur ceremony.Participant) bool {
	ref, err := d.Finalizer.Publish(ctx, finalizer.Request{
		Ceremony:      d.Ceremony,
		ParticipantID: cur.ID,
		ContributorID: d.ContributorID,
		Contributions: cur.Contributions,
	})
	if err != nil {
		status.Message(d.Sink, "Error publishing attestation: %v", err)
		return true
	}
	status.Attestation(d.Sink, ref)
	return true
}
