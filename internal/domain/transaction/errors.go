package transaction

import (
	"fmt"
	"strings"
)

// PartialBatchError reports that some documents in an upsert batch failed to
// persist. It carries the failed ids so the caller can decide whether the
// batch as a whole counts as a failure.
type PartialBatchError struct {
	Attempted int
	FailedIDs []string
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("%d of %d documents failed to persist: %s",
		len(e.FailedIDs), e.Attempted, strings.Join(e.FailedIDs, ", "))
}

// MajorityFailed reports whether more than half of the batch failed.
func (e *PartialBatchError) MajorityFailed() bool {
	return len(e.FailedIDs)*2 > e.Attempted
}
