// Package pipeline implements the step-gated DOWNLOAD -> COMPUTE -> UPLOAD
// -> VERIFY executor for one circuit's contribution, including resumption
// from any of these steps.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"

	"github.com/zkceremony/contributor/internal/ceremony"
	"github.com/zkceremony/contributor/internal/clog"
	"github.com/zkceremony/contributor/internal/coordination"
	"github.com/zkceremony/contributor/internal/naming"
	"github.com/zkceremony/contributor/internal/status"
	"github.com/zkceremony/contributor/internal/storage"
	"github.com/zkceremony/contributor/internal/zkey"
)

// settleDelay is the short pause between steps that gives the server's
// document time to settle before the pipeline re-reads it. It is tolerable
// overhead, not a correctness gate; tests shrink it to keep runs fast.
var settleDelay = 3 * time.Second

// Params bundles everything one RunOrResume invocation needs.
type Params struct {
	CeremonyID     string
	Ceremony       ceremony.Ceremony
	Circuit        ceremony.Circuit
	ContributorID  string
	BucketPostfix  string
	VerifyURL      string
	Coordination   coordination.Adapter
	Storage        storage.Adapter
	Contributor    zkey.Contributor
	Sink           status.Sink
	CacheDir       string // local scratch dir for the in-flight next-zKey buffer
}

// RunOrResume executes the contribution for one circuit, beginning at
// whatever step the given participant snapshot is currently in, looping
// through subsequent steps as the server advances the record, until it
// reaches VERIFYING (where the server, not the client, advances next) or an
// unrecoverable error occurs.
//
// The client never holds a lock over the participant record: each step
// calls a callable that advances server-side state, then re-reads that
// state, so a crash at any point leaves the server's view consistent with
// "the next legitimate step is whatever the server says it is".
func RunOrResume(ctx context.Context, p Params, participant ceremony.Participant) error {
	paths := coordination.Paths{CeremonyID: p.CeremonyID}
	buf := zkey.NewBuffer()
	cache := newDiskCache(p.CacheDir, p.CeremonyID, p.Circuit.ID)
	log := clog.New(logrus.Fields{"component": "pipeline", "circuit": p.Circuit.ID})

	for {
		log.Printf("entering step %s", participant.ContributionStep)
		switch participant.ContributionStep {
		case ceremony.StepDownloading:
			if err := runDownload(ctx, p, buf); err != nil {
				log.Errorf("download failed: %v", err)
				status.Message(p.Sink, "Error downloading previous contribution: %v", err)
				return trace.Wrap(err)
			}
			next, err := advanceAndRefresh(ctx, p, paths, participant.ID)
			if err != nil {
				return err
			}
			participant = next

		case ceremony.StepComputing:
			if err := runCompute(ctx, p, buf, cache); err != nil {
				log.Errorf("compute failed: %v", err)
				status.Message(p.Sink, "Error computing contribution: %v", err)
				return trace.Wrap(err)
			}
			next, err := advanceAndRefresh(ctx, p, paths, participant.ID)
			if err != nil {
				return err
			}
			participant = next

		case ceremony.StepUploading:
			if len(buf.Next) == 0 {
				if loaded, ok := cache.load(); ok {
					buf.Next = loaded
				} else {
					err := trace.Errorf("no next zKey available to upload for circuit %s: pipeline was not resumed with its COMPUTE output", p.Circuit.ID)
					status.Message(p.Sink, "Error resuming upload: %v", err)
					return err
				}
			}
			if err := runUpload(ctx, p, buf, participant.TempContributionData); err != nil {
				log.Errorf("upload failed: %v", err)
				status.Message(p.Sink, "Error uploading contribution: %v", err)
				return trace.Wrap(err)
			}
			cache.clear()
			next, err := advanceAndRefresh(ctx, p, paths, participant.ID)
			if err != nil {
				return err
			}
			participant = next

		case ceremony.StepVerifying:
			if err := runVerify(ctx, p, participant.ID); err != nil {
				log.Errorf("verify request failed: %v", err)
				status.Message(p.Sink, "Error requesting verification: %v", err)
				return trace.Wrap(err)
			}
			status.Message(p.Sink, "Contribution uploaded, awaiting verification of circuit %s", p.Circuit.ID)
			return nil // the server, not the client, advances past VERIFYING

		default:
			return nil
		}
	}
}

func advanceAndRefresh(ctx context.Context, p Params, paths coordination.Paths, participantID string) (ceremony.Participant, error) {
	if err := p.Coordination.ProgressToNextContributionStep(ctx, p.CeremonyID); err != nil {
		return ceremony.Participant{}, trace.Wrap(err, "advancing contribution step")
	}
	time.Sleep(settleDelay)
	snap, err := p.Coordination.GetDoc(ctx, paths.Participant(participantID))
	if err != nil {
		return ceremony.Participant{}, trace.Wrap(err, "refreshing participant after step advance")
	}
	if !snap.Exists {
		return ceremony.Participant{}, trace.Wrap(coordination.ErrEmptyDocument, "participant %s vanished mid-pipeline", participantID)
	}
	return ceremony.DecodeParticipant(participantID, snap.Data), nil
}

func runDownload(ctx context.Context, p Params, buf *zkey.Buffer) error {
	bucket := naming.BucketName(p.Ceremony.Prefix, p.BucketPostfix)
	name := naming.LastZkeyName(p.Circuit.Prefix, p.Circuit.WaitingQueue.CompletedContributions)
	path := naming.ContributionPath(p.Circuit.Prefix, name)

	status.Busy(p.Sink, "Downloading contribution %s for circuit %s", name, p.Circuit.ID)
	data, err := p.Storage.DownloadArtifact(ctx, bucket, path, storage.ProgressSink(p.Sink, "Downloading"))
	if err != nil {
		return trace.Wrap(err, "downloading %s", name)
	}
	buf.Previous = data
	return nil
}

func runCompute(ctx context.Context, p Params, buf *zkey.Buffer, cache *diskCache) error {
	entropy, err := zkey.Entropy()
	if err != nil {
		return trace.Wrap(err, "generating entropy")
	}

	status.Busy(p.Sink, "Computing contribution for circuit %s", p.Circuit.ID)

	start := time.Now()
	output, err := p.Contributor.Contribute(buf.Previous, p.ContributorID, entropy)
	elapsed := time.Since(start)
	if err != nil {
		return trace.Wrap(err, "zKey contribution")
	}
	buf.Next = output
	cache.save(output)

	hash := zkey.FormatHash(output, "Contribution Hash: ")

	if err := p.Coordination.PermanentlyStoreCurrentContributionTimeAndHash(ctx, p.CeremonyID, elapsed.Milliseconds(), hash); err != nil {
		return trace.Wrap(err, "storing contribution time and hash")
	}
	return nil
}

func runUpload(ctx context.Context, p Params, buf *zkey.Buffer, existing []ceremony.UploadedPart) error {
	bucket := naming.BucketName(p.Ceremony.Prefix, p.BucketPostfix)
	name := naming.NextZkeyName(p.Circuit.Prefix, p.Circuit.WaitingQueue.CompletedContributions)
	path := naming.ContributionPath(p.Circuit.Prefix, name)

	status.Busy(p.Sink, "Uploading contribution %s for circuit %s", name, p.Circuit.ID)

	record := func(ctx context.Context, part ceremony.UploadedPart) error {
		return p.Coordination.RecordUploadedPart(ctx, p.CeremonyID, part)
	}

	return p.Storage.MultipartUpload(ctx, bucket, path, buf.Next, existing, record, storage.ProgressSink(p.Sink, "Uploading"))
}

func runVerify(ctx context.Context, p Params, contributorID string) error {
	bucket := naming.BucketName(p.Ceremony.Prefix, p.BucketPostfix)
	return p.Coordination.VerifyContribution(ctx, p.CeremonyID, p.Circuit.ID, bucket, contributorID, p.VerifyURL)
}

// diskCache spills the pipeline's in-memory next-zKey buffer to a local
// scratch file for the duration of one circuit's UPLOAD step, so that a
// process restart between COMPUTING and UPLOADING can resume the upload
// without recomputing. Recomputing would mint a fresh, different
// contribution whose hash would no longer match what was already recorded
// server-side via permanentlyStoreCurrentContributionTimeAndHash.
type diskCache struct {
	path string
}

func newDiskCache(dir, ceremonyID, circuitID string) *diskCache {
	if dir == "" {
		return &diskCache{}
	}
	return &diskCache{path: filepath.Join(dir, ceremonyID+"_"+circuitID+".nextzkey")}
}

func (c *diskCache) save(data []byte) {
	if c.path == "" {
		return
	}
	_ = os.MkdirAll(filepath.Dir(c.path), 0o700)
	_ = os.WriteFile(c.path, data, 0o600)
}

func (c *diskCache) load() ([]byte, bool) {
	if c.path == "" {
		return nil, false
	}
	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (c *diskCache) clear() {
	if c.path == "" {
		return
	}
	_ = os.Remove(c.path)
}
