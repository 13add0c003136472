//go:build !release

package assert

import (
	"fmt"

	"github.com/rotisserie/eris"
)

// That panics with the formatted message when cond is false.
func That(cond bool, format string, args ...any) { //nolint:goprintffuncname // it's ok
	if !cond {
		panic(fmt.Sprintf(format, args...))
	}
}

// NoError panics with the full eris stack when err is non-nil.
func NoError(err error, msg string) {
	if err != nil {
		panic(msg + ": " + eris.ToString(err, true))
	}
}
