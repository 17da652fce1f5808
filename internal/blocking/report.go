package blocking

import (
	"errors"
	"fmt"

	"github.com/bobuk/calblock/internal/logging"
	"github.com/bobuk/calblock/internal/model"
)

// MirrorFailure is a mirror write that did not go through. The source
// event it belongs to is unaffected.
type MirrorFailure struct {
	TargetCalendarID string
	// TargetEventID is empty when the mirror was never created.
	TargetEventID string
	Err           error
}

func (f MirrorFailure) Error() string {
	if f.TargetEventID == "" {
		return fmt.Sprintf("mirror on calendar %s: %v", f.TargetCalendarID, f.Err)
	}
	return fmt.Sprintf("mirror %s on calendar %s: %v", f.TargetEventID, f.TargetCalendarID, f.Err)
}

func (f MirrorFailure) Unwrap() error {
	return f.Err
}

// Report collects the non-fatal outcome of a blocking operation.
type Report struct {
	Failures []MirrorFailure
	// Skipped holds *model.ConsistencyError values for bookkeeping that no
	// longer matched the stored events.
	Skipped []error
	// Removed counts mirrors deleted by delete, desync and repair runs.
	Removed int
}

// Result is the stored source event plus what happened to its mirrors.
type Result struct {
	Event  model.CalendarEvent
	Report Report
}

// OK reports whether every mirror operation succeeded.
func (r *Report) OK() bool {
	return len(r.Failures) == 0 && len(r.Skipped) == 0
}

// Err joins failures and skips into one error, or returns nil.
func (r *Report) Err() error {
	if r == nil {
		return nil
	}
	errs := make([]error, 0, len(r.Failures)+len(r.Skipped))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	errs = append(errs, r.Skipped...)
	return errors.Join(errs...)
}

func (r *Report) fail(targetCalendarID, targetEventID string, err error) {
	r.Failures = append(r.Failures, MirrorFailure{
		TargetCalendarID: targetCalendarID,
		TargetEventID:    targetEventID,
		Err:              err,
	})
}

func (r *Report) skip(relationshipID, targetEventID, reason string) {
	r.Skipped = append(r.Skipped, &model.ConsistencyError{
		RelationshipID: relationshipID,
		TargetEventID:  targetEventID,
		Reason:         reason,
	})
}

func (r *Report) status() string {
	if len(r.Failures) > 0 {
		return logging.StatusPartial
	}
	return logging.StatusSuccess
}
