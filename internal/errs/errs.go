// Package errs defines the hard-failure taxonomy shared by the clustering and
// planning packages. Each error names the offending input so callers can
// surface it without parsing messages.
package errs

import (
	"fmt"
	"strings"
)

// EmptyInputError is returned when there is nothing to cluster, route or query.
type EmptyInputError struct {
	Input string
}

func (e *EmptyInputError) Error() string {
	return fmt.Sprintf("empty input: %s", e.Input)
}

// InsufficientDataError is returned when density clustering cannot form any
// cluster from the supplied observations.
type InsufficientDataError struct {
	Have   int
	Need   int
	Reason string
}

func (e *InsufficientDataError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("insufficient data: %s (have %d observations, minPoints %d)", e.Reason, e.Have, e.Need)
	}
	return fmt.Sprintf("insufficient data: have %d observations, need at least %d", e.Have, e.Need)
}

// UnknownHotspotError lists pinned IDs that do not resolve against the
// catalog generation used for planning.
type UnknownHotspotError struct {
	Generation string
	IDs        []string
}

func (e *UnknownHotspotError) Error() string {
	return fmt.Sprintf("unknown hotspot ids in generation %q: %s", e.Generation, strings.Join(e.IDs, ","))
}
