package zkey

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gravitational/trace"
)

// ExecContributor bridges to the external SNARK zKey contribution tool.
// Real zKey contribution tooling lives outside the Go ecosystem (snarkjs
// and friends), so this adapter shells out to a configured binary the way
// a Go process bridges to any non-Go cryptographic toolchain: write input
// to a scratch file, invoke the tool, read its output back.
type ExecContributor struct {
	// BinaryPath is the path to the zkey-contribute executable.
	BinaryPath string
	// ScratchDir holds the transient input/output files for one invocation.
	ScratchDir string
}

var _ Contributor = (*ExecContributor)(nil)

// Contribute implements Contributor by invoking BinaryPath with
// "contribute <in> <out> <contributorID> <entropy>".
func (e *ExecContributor) Contribute(previousZkey []byte, contributorID, entropy string) ([]byte, error) {
	ctx := context.Background()

	dir, err := os.MkdirTemp(e.ScratchDir, "zkey-contribute-*")
	if err != nil {
		return nil, trace.Wrap(err, "creating scratch directory")
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input.zkey")
	outPath := filepath.Join(dir, "output.zkey")

	if err := os.WriteFile(inPath, previousZkey, 0o600); err != nil {
		return nil, trace.Wrap(err, "writing scratch input")
	}

	cmd := exec.CommandContext(ctx, e.BinaryPath, "contribute", inPath, outPath, contributorID, entropy)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, trace.Wrap(err, "zkey contribute failed: %s", stderr.String())
	}

	output, err := os.ReadFile(outPath)
	if err != nil {
		return nil, trace.Wrap(err, "reading scratch output")
	}
	return output, nil
}
