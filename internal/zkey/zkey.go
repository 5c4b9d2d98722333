// Package zkey adapts the SNARK zKey contribution primitive, treated as an
// external deterministic-with-randomness transform, and owns the
// in-memory buffers that carry zKey bytes between the pipeline's DOWNLOAD,
// COMPUTE, and UPLOAD steps.
package zkey

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// entropyDraws is the number of independent uniform draws from [0, 2^256)
// concatenated to build contribution entropy.
const entropyDraws = 32

var twoTo256 = new(big.Int).Lsh(big.NewInt(1), 256)

// Entropy returns a cryptographically secure string built from 32
// independent uniform draws in [0, 2^256), each rendered in decimal and
// concatenated. It is cryptographically adequate because the SNARK library
// hashes it; no byte-exact representation is prescribed or relied upon by
// this package.
func Entropy() (string, error) {
	var b strings.Builder
	for i := 0; i < entropyDraws; i++ {
		n, err := rand.Int(rand.Reader, twoTo256)
		if err != nil {
			return "", fmt.Errorf("drawing entropy: %w", err)
		}
		b.WriteString(n.String())
	}
	return b.String(), nil
}

// Contributor performs the actual zKey contribution. It is implemented by
// the SNARK library binding; this package only owns the buffers around it.
type Contributor interface {
	Contribute(previousZkey []byte, contributorID, entropy string) (nextZkey []byte, err error)
}

// Buffer owns the previous-zKey bytes and the contribution output for
// exactly one circuit's pipeline invocation: its lifetime spans COMPUTE
// and UPLOAD for a single circuit, is re-initialized per circuit, and is
// never shared.
type Buffer struct {
	Previous []byte
	Next     []byte
}

// NewBuffer returns a Buffer ready to receive a downloaded previous zKey.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// FormatHash formats a contribution's raw digest the way the SNARK
// library's contribution log line does, prefixed by label.
func FormatHash(digest []byte, label string) string {
	return label + fmt.Sprintf("%x", digest)
}
