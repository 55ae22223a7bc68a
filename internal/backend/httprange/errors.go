package httprange

import "fmt"

// UnexpectedStatusError reports a response status that is neither 200 nor
// 206, which the range protocol cannot recover from.
type UnexpectedStatusError struct {
	Operation  string // the operation that failed, e.g. "fetch"
	StatusCode int
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("unexpected status %d during %s", e.StatusCode, e.Operation)
}
