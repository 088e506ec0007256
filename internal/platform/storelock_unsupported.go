//go:build !unix

package platform

import (
	"fmt"
	"runtime"
)

func acquireStoreLock(string) (StoreLock, error) {
	return nil, fmt.Errorf("%w on %s", ErrStoreLockUnsupported, runtime.GOOS)
}
