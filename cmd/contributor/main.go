/*
Starts a contributor client that drives one participant through the
per-circuit contribution lifecycle of a Phase 2 trusted-setup ceremony:
watches the participant record, downloads the current zKey, applies a
fresh contribution, uploads the result, and awaits verification, across
arbitrary disconnects and enforced cool-down timeouts.

For usage details, run contributor with the command line flag -h or
--help.
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"syscall"

	"cloud.google.com/go/firestore"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gravitational/trace"

	"github.com/zkceremony/contributor/internal/auth"
	"github.com/zkceremony/contributor/internal/ceremony"
	"github.com/zkceremony/contributor/internal/clog"
	"github.com/zkceremony/contributor/internal/config"
	"github.com/zkceremony/contributor/internal/coordination"
	"github.com/zkceremony/contributor/internal/finalizer"
	"github.com/zkceremony/contributor/internal/naming"
	"github.com/zkceremony/contributor/internal/participant"
	"github.com/zkceremony/contributor/internal/pipeline"
	"github.com/zkceremony/contributor/internal/reputation"
	"github.com/zkceremony/contributor/internal/status"
	"github.com/zkceremony/contributor/internal/storage"
	"github.com/zkceremony/contributor/internal/timeutil"
	"github.com/zkceremony/contributor/internal/zkey"
)

func main() {
	var help bool
	var logOutput bool
	var zkeyBinary string
	var selfTest bool

	flag.Usage = usage
	flag.BoolVar(&help, "h", false, "Show usage information")
	flag.BoolVar(&logOutput, "l", false, "Show logging output (for debugging)")
	flag.StringVar(&zkeyBinary, "z", "zkey-contribute", "Path to the external zKey contribution tool")
	flag.BoolVar(&selfTest, "selftest", false, "Run an offline self-test of naming/formatting/entropy and exit")
	flag.Parse()

	ceremonyID := flag.Arg(0)

	if help || (ceremonyID == "" && !selfTest) {
		usage()
		os.Exit(0)
	}

	if logOutput {
		clog.Enable()
	}

	if selfTest {
		runSelfTest()
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sigCh
		fmt.Println("Terminating contributor on signal...")
		cancel()
	}()

	sink := consoleSink{}

	if err := contribute(ctx, ceremonyID, zkeyBinary, sink); err != nil {
		sink.Emit(status.Event{Message: fmt.Sprintf("Error: %v", err)})
		os.Exit(1)
	}
}

// contribute gates on authentication and reputation, checks ceremony
// participation eligibility, then attaches the participant state machine
// for the rest of the session.
func contribute(ctx context.Context, ceremonyID, zkeyBinary string, sink status.Sink) error {
	cfg, err := config.Load()
	if err != nil {
		return trace.Wrap(err)
	}

	storeDir, err := credentialDir()
	if err != nil {
		return trace.Wrap(err)
	}
	store := auth.NewStore(storeDir)

	token, username, ok, err := store.Load()
	if err != nil {
		return trace.Wrap(err)
	}
	if !ok {
		status.Message(sink, "Not logged in; run login before contributing")
		return nil
	}

	ghClient := auth.NewGitHubClient(ctx, token)

	allowed, err := reputation.Check(ctx, ghClient, cfg.Thresholds())
	if err != nil {
		return trace.Wrap(err, "checking reputation")
	}
	if !allowed {
		status.Message(sink, "%s", cfg.Thresholds().String())
		return nil
	}

	participantID, err := auth.ResolveUserID(ctx, ghClient)
	if err != nil {
		return trace.Wrap(err)
	}

	firestoreClient, err := firestore.NewClient(ctx, cfg.FirestoreProjectID)
	if err != nil {
		return trace.Wrap(err, "connecting to coordination store")
	}
	defer firestoreClient.Close()

	callables := coordination.NewCallableClient(cfg.CoordinationBaseURL, auth.TokenSource(token))
	coordAdapter := coordination.NewFirestoreAdapter(coordination.NewFirestoreDocs(firestoreClient), callables)

	eligible, err := coordAdapter.CheckParticipantForCeremony(ctx, ceremonyID)
	if err != nil {
		return trace.Wrap(err, "checking ceremony eligibility")
	}
	if !eligible {
		return handleIneligible(ctx, coordAdapter, ceremonyID, participantID, sink)
	}

	cer, err := loadCeremony(ctx, coordAdapter, ceremonyID)
	if err != nil {
		return trace.Wrap(err, "loading ceremony")
	}

	var awsOpts []func(*awsconfig.LoadOptions) error
	if cfg.S3AccessKeyID != "" {
		// A self-hosted or MinIO-style endpoint has no surrounding IAM role
		// chain to fall back on, so static keys must be supplied explicitly.
		awsOpts = append(awsOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKeyID, cfg.S3SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsOpts...)
	if err != nil {
		return trace.Wrap(err, "loading object storage configuration")
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = &cfg.S3Endpoint
		}
	})

	dispatcher := &participant.Dispatcher{
		CeremonyID:    ceremonyID,
		Ceremony:      cer,
		ContributorID: username,
		Coordination:  coordAdapter,
		PipelineBase: pipeline.Params{
			Storage:       storage.NewS3Adapter(s3Client),
			Contributor:   &zkey.ExecContributor{BinaryPath: zkeyBinary},
			Sink:          sink,
			BucketPostfix: cfg.BucketPostfix,
			VerifyURL:     cfg.VerifyContributionURL,
			CacheDir:      filepath.Join(storeDir, "cache"),
		},
		Finalizer: finalizer.NewGitHubFinalizer(ghClient),
		Sink:      sink,
	}

	done, err := dispatcher.Attach(ctx, participantID)
	if err != nil {
		return trace.Wrap(err)
	}

	select {
	case <-done:
	case <-ctx.Done():
	}
	return nil
}

func handleIneligible(ctx context.Context, adapter coordination.Adapter, ceremonyID, participantID string, sink status.Sink) error {
	paths := coordination.Paths{CeremonyID: ceremonyID}
	docs, err := adapter.ListDocs(ctx, paths.Timeouts(participantID))
	if err != nil {
		return trace.Wrap(err, "checking active timeouts")
	}
	if len(docs) == 1 && docs[0].Exists {
		t := ceremony.DecodeTimeout(docs[0].Data)
		status.Message(sink, "You cannot participate yet; try again in %s", timeutil.FormatMillis(timeutil.Until(t.EndDate)))
		return nil
	}
	status.Message(sink, "You cannot participate in this ceremony")
	return nil
}

func loadCeremony(ctx context.Context, adapter coordination.Adapter, ceremonyID string) (ceremony.Ceremony, error) {
	paths := coordination.Paths{CeremonyID: ceremonyID}

	snap, err := coordination.Require(adapter.GetDoc(ctx, paths.Ceremony()))
	if err != nil {
		return ceremony.Ceremony{}, err
	}
	cer := ceremony.DecodeCeremonyHeader(ceremonyID, snap.Data)
	cer.ID = ceremonyID

	circuitDocs, err := adapter.ListDocs(ctx, paths.Circuits())
	if err != nil {
		return ceremony.Ceremony{}, err
	}
	for i, d := range circuitDocs {
		if !d.Exists {
			continue
		}
		cer.Circuits = append(cer.Circuits, ceremony.DecodeCircuit(fmt.Sprintf("circuit-%d", i), d.Data))
	}
	ceremony.SortCircuits(cer.Circuits)
	return cer, nil
}

func credentialDir() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		u, uerr := user.Current()
		if uerr != nil {
			return "", trace.Wrap(err, "resolving config directory")
		}
		dir = filepath.Join(u.HomeDir, ".config")
	}
	return filepath.Join(dir, "zkceremony-contributor"), nil
}

func runSelfTest() {
	fmt.Println("Running offline self-test (no network calls)...")
	entropy1, err := zkey.Entropy()
	if err != nil {
		fmt.Printf("FAIL: entropy generation: %v\n", err)
		os.Exit(1)
	}
	entropy2, _ := zkey.Entropy()
	if entropy1 == entropy2 {
		fmt.Println("FAIL: two entropy draws were identical")
		os.Exit(1)
	}
	fmt.Println("OK: entropy generation produces distinct draws")
	if got := naming.FormatZkeyIndex(42); got != "00042" {
		fmt.Printf("FAIL: zKey index formatting: got %q, want %q\n", got, "00042")
		os.Exit(1)
	}
	fmt.Println("OK: zKey index formatting")
	if got := timeutil.FormatMillis(3600500); got != "00:01:00:00" {
		fmt.Printf("FAIL: duration formatting: got %q, want %q\n", got, "00:01:00:00")
		os.Exit(1)
	}
	fmt.Println("OK: duration formatting")
	fmt.Println("Self-test complete")
}

// consoleSink is the default presentation-layer-free sink used when the
// client is run directly rather than hosted behind a UI.
type consoleSink struct{}

func (consoleSink) Emit(e status.Event) {
	if e.AttestationRef != "" {
		fmt.Printf("%s: %s\n", e.Message, e.AttestationRef)
		return
	}
	fmt.Println(e.Message)
}

func usage() {
	fmt.Printf(`usage: contributor [-h|--help] [-l] [-z zkeyBinary] [--selftest] ceremonyId

Drives one participant through the contribution lifecycle of the given
ceremony.

Flags:
`)
	flag.PrintDefaults()
}
