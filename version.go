package main

import (
	"fmt"
	"runtime"
)

// These are filled in with the linker -X flag.
var (
	Version     = "dev"
	GitRevision = "unknown"
)

func versionString() string {
	return fmt.Sprintf("%v (revision %v, %s %s/%s)",
		Version, GitRevision, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
