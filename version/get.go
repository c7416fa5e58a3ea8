package version

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Package returns the canonical import path of the project.
func Package() string {
	return mainpkg
}

// Version returns the version the running binary was built from.
func Version() string {
	return version
}

// Revision returns the VCS revision recorded at link time, or "".
func Revision() string {
	return revision
}

// FprintVersion writes "<cmd> <project> <version>" to w, followed by the
// revision when one was recorded, and a newline. For example:
//
//	reststorage github.com/reststorage/reststorage v0.1.0 3f2a9c1
func FprintVersion(w io.Writer) {
	if rev := Revision(); rev != "" {
		fmt.Fprintln(w, filepath.Base(os.Args[0]), Package(), Version(), rev)
		return
	}
	fmt.Fprintln(w, filepath.Base(os.Args[0]), Package(), Version())
}

// PrintVersion writes the version information to stdout.
func PrintVersion() {
	FprintVersion(os.Stdout)
}
