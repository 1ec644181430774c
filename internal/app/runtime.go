package app

import (
	"os"
	"sync"
)

const testModeEnv = "INKWELL_TEST_MODE"

// InTestMode reports whether the process runs under `go test`, in which case
// the binaries skip runtime startup. The flag is read once; the testing
// package sets it before any test package initializes.
var InTestMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})
