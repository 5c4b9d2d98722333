// Package naming implements the deterministic mapping from a circuit's
// contribution count to zKey filenames, storage object keys, and bucket
// names.
package naming

import "fmt"

// zkeyIndexWidth is the left-pad width for a formatted zKey index.
const zkeyIndexWidth = 5

// FormatZkeyIndex left-pads n to zkeyIndexWidth digits, e.g. 42 -> "00042".
func FormatZkeyIndex(n int) string {
	return fmt.Sprintf("%0*d", zkeyIndexWidth, n)
}

// LastZkeyName returns the filename of the most recently completed
// contribution for a circuit with the given prefix and completed count.
func LastZkeyName(circuitPrefix string, completedContributions int) string {
	return fmt.Sprintf("%s_%s.zkey", circuitPrefix, FormatZkeyIndex(completedContributions))
}

// NextZkeyName returns the filename the next contribution must produce.
func NextZkeyName(circuitPrefix string, completedContributions int) string {
	return fmt.Sprintf("%s_%s.zkey", circuitPrefix, FormatZkeyIndex(completedContributions+1))
}

// ContributionPath returns the storage object key for a given circuit
// prefix and zKey filename.
func ContributionPath(circuitPrefix, filename string) string {
	return fmt.Sprintf("circuits/%s/contributions/%s", circuitPrefix, filename)
}

// BucketName returns the storage bucket name for a ceremony prefix and the
// configured bucket postfix.
func BucketName(ceremonyPrefix, bucketPostfix string) string {
	return ceremonyPrefix + bucketPostfix
}
