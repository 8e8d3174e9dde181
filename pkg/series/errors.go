package series

import "fmt"

// Error describes a failed operation on one series.
type Error struct {
	SeriesID string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("series %s: %s: %v", e.SeriesID, e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
