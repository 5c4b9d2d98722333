// Package queue implements the circuit queue observer: watching a circuit
// document while the participant waits, estimating time to contribution,
// and handing control back to the participant state machine once the
// participant becomes the current contributor.
package queue

import (
	"context"
	"slices"

	"github.com/gravitational/trace"

	"github.com/zkceremony/contributor/internal/ceremony"
	"github.com/zkceremony/contributor/internal/coordination"
	"github.com/zkceremony/contributor/internal/status"
	"github.com/zkceremony/contributor/internal/timeutil"
)

// Observer tracks a single participant's position in a single circuit's
// waiting queue for the lifetime of one Subscribe call.
type Observer struct {
	participantID string
	sink          status.Sink
	lastReported  int // cached last-reported position; 0 means "never reported"
}

// NewObserver returns an Observer for participantID, reporting through sink.
func NewObserver(participantID string, sink status.Sink) *Observer {
	return &Observer{participantID: participantID, sink: sink}
}

// Subscribe attaches the observer to the given circuit document. It returns
// the Unsubscribe handle the caller should invoke on teardown; the observer
// also unsubscribes itself as soon as the participant reaches position 1.
func Subscribe(ctx context.Context, adapter coordination.Adapter, ceremonyID, circuitID string, o *Observer) (coordination.Unsubscribe, error) {
	paths := coordination.Paths{CeremonyID: ceremonyID}

	var unsub coordination.Unsubscribe
	unsub, err := adapter.Subscribe(ctx, paths.Circuit(circuitID), func(snap coordination.DocumentSnapshot) {
		if !snap.Exists {
			status.Message(o.sink, "Error: circuit %s record is missing", circuitID)
			return
		}
		circuit := ceremony.DecodeCircuit(circuitID, snap.Data)
		done := o.onSnapshot(circuit)
		if done && unsub != nil {
			unsub()
		}
	})
	if err != nil {
		return nil, trace.Wrap(err, "subscribing to circuit %s", circuitID)
	}
	return unsub, nil
}

// onSnapshot processes one circuit snapshot. It returns true once the
// participant has reached position 1 and should stop being observed (the
// participant state machine picks up the transition to CONTRIBUTING from
// there).
func (o *Observer) onSnapshot(c ceremony.Circuit) bool {
	pos := slices.Index(c.WaitingQueue.Contributors, o.participantID) + 1 // 0 if not found -> pos 0
	if pos <= 0 {
		return false
	}

	if pos == 1 {
		status.Message(o.sink, "You are first in queue for circuit %s", c.ID)
		return true
	}

	if pos != o.lastReported {
		eta := int64(0)
		if c.AvgTimings.FullContribution > 0 && c.AvgTimings.VerifyCloudFunction > 0 {
			perContributor := c.AvgTimings.FullContribution + c.AvgTimings.VerifyCloudFunction
			eta = perContributor.Milliseconds() * int64(pos-1)
		}
		status.Message(o.sink, "Position %d in queue for circuit %s, estimated wait %s", pos, c.ID, timeutil.FormatMillis(eta))
		o.lastReported = pos
	}
	return false
}
