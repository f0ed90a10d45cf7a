package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDuplicateAsset is returned when registering a name that already exists.
	ErrDuplicateAsset = errors.New("asset already registered")
	// ErrUnknownDependency is returned when a declared dependency has not
	// been registered yet. Dependencies must be registered before dependents.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrRegistryFrozen is returned for any mutation after Freeze.
	ErrRegistryFrozen = errors.New("registry is frozen")
	// ErrAssetNotFound is returned when a requested asset name does not
	// resolve against the frozen graph.
	ErrAssetNotFound = errors.New("asset not found")
	// ErrCycleDetected is the sentinel matched by CycleError.
	ErrCycleDetected = errors.New("cycle detected")
	// ErrImplicitDependency is returned by Freeze when a snapshot producer
	// and a reader of the same entity are not connected by declared edges.
	ErrImplicitDependency = errors.New("undeclared dependency between entity assets")
)

// CycleError reports a dependency cycle, naming the participating assets in
// traversal order.
type CycleError struct {
	Assets []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected involving assets: %s", strings.Join(e.Assets, " -> "))
}

// Unwrap makes errors.Is(err, ErrCycleDetected) hold for CycleError values.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}
