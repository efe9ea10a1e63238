package snap

import (
	"errors"
	"fmt"
)

var (
	ErrTooShort       = errors.New("trip has fewer than 2 points")
	ErrNoGeometry     = errors.New("no usable geometry in response")
	ErrUnknownService = errors.New("unknown snapping service")
)

// StatusError is returned when the routing service responds with a non-200
// status or an OSRM code other than "Ok".
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("routing service returned %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("routing service returned %d %s", e.StatusCode, e.Code)
}
