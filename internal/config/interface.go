package config

import "context"

// Loader is the interface for a format-specific configuration loader. Each
// path may be a single file or a directory searched recursively.
type Loader interface {
	Load(ctx context.Context, paths ...string) (*Model, error)
}
