package attendance

import (
	"errors"
	"fmt"
)

var (
	ErrForbidden      = errors.New("not allowed to mark attendance")
	ErrNotEditing     = errors.New("view is not in edit mode")
	ErrSaveInProgress = errors.New("a save is already in progress")
	ErrStaleLoad      = errors.New("load superseded by a newer query")
	ErrUnknownRecord  = errors.New("record not in current view")
)

// BatchError reports a diff-toggle batch in which some calls failed.
// The pending edits are left untouched when it is returned.
type BatchError struct {
	Failed int
	Total  int
	// First is the first failure observed, for logging.
	First error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("%d succeeded, %d failed", e.Total-e.Failed, e.Failed)
}

func (e *BatchError) Unwrap() error {
	return e.First
}
