package capsule

import (
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CompareVersions orders two capsule version strings: -1 if a < b, 0 if
// equal, +1 if a > b. Semantic versions compare semantically; when either
// side does not parse as semver, both fall back to lexical comparison so the
// ordering stays total.
func CompareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	if errA == nil && errB == nil {
		return va.Compare(vb)
	}
	return strings.Compare(a, b)
}
