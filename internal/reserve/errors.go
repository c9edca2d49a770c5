package reserve

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ibnr-engine/internal/model"
)

// ErrInvalidRequest is wrapped by Recalculate when the request itself is
// unusable. No run is recorded.
var ErrInvalidRequest = eris.New("reserve: invalid run request")

// RunCommitError means a computed run could not be persisted. No partial
// results are visible and the previous committed run stays current.
type RunCommitError struct {
	RunID    string
	Attempts int
	Err      error
}

func (e *RunCommitError) Error() string {
	return fmt.Sprintf("reserve: commit run %s failed after %d attempt(s): %v", e.RunID, e.Attempts, e.Err)
}

func (e *RunCommitError) Unwrap() error {
	return e.Err
}

// NoEstimatesError means every category was excluded, so there is nothing
// to commit.
type NoEstimatesError struct {
	AsOf     model.Period
	Excluded []model.ExcludedCategory
}

func (e *NoEstimatesError) Error() string {
	if len(e.Excluded) == 0 {
		return fmt.Sprintf("reserve: no categories to estimate for %s", e.AsOf)
	}
	parts := make([]string, 0, len(e.Excluded))
	for _, x := range e.Excluded {
		parts = append(parts, x.Category+" ("+string(x.Reason)+")")
	}
	return fmt.Sprintf("reserve: no category produced an estimate for %s: %s", e.AsOf, strings.Join(parts, ", "))
}
