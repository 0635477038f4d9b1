//go:build !linux

package boot

import (
	"fmt"
	"runtime"

	"github.com/open-edge-platform/os-boot-storage/internal/config"
)

// NewHostLoader is only available on Linux.
func NewHostLoader(cfg *config.Config) (*Loader, error) {
	return nil, fmt.Errorf("host controller access is not supported on %s", runtime.GOOS)
}
