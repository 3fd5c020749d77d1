//go:build !linux

package pagestore

import (
	"github.com/cuemby/gridcore/pkg/gridcore"
)

// DirectStore is unavailable outside Linux; O_DIRECT has no portable
// equivalent, so on non-Linux builds only FileStore is usable.
type DirectStore struct{}

// NewDirectStore always fails on non-Linux platforms.
func NewDirectStore(dir string, pageSize, blockSize int) (*DirectStore, error) {
	return nil, &gridcore.ConfigurationError{Field: "pagestore", Reason: "direct I/O is only supported on linux"}
}
