package kernel

import (
	"fmt"
	"runtime/debug"
)

// runSafely runs fn and turns a panic into an error tagged with scope.
func runSafely(scope string, fn func() error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%s: panic recovered: %v\n%s", scope, recovered, debug.Stack())
		}
	}()

	if err := fn(); err != nil {
		return fmt.Errorf("%s: %w", scope, err)
	}

	return nil
}
