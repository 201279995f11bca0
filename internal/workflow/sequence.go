package workflow

import (
	"fmt"
	"strconv"
	"strings"
)

// NextSequenceCode computes the next human-readable complaint code for a
// prefix given the codes already persisted under it: max numeric suffix + 1,
// or start when none exist, left-padded to pad digits.
//
// Two concurrent writers can compute the same "next" number before either
// commits; the allocator does not promise atomicity. The unique constraint on
// the column detects the loser, and the create path regenerates and retries
// (see Service.createWithRetry).
func NextSequenceCode(prefix string, start, pad int, existing []string) string {
	next := start
	for _, code := range existing {
		if !strings.HasPrefix(code, prefix) {
			continue
		}
		// Codes with a non-numeric suffix are ignored, never fatal to the scan.
		n, err := strconv.Atoi(code[len(prefix):])
		if err != nil {
			continue
		}
		if n+1 > next {
			next = n + 1
		}
	}
	return fmt.Sprintf("%s%0*d", prefix, pad, next)
}
