//go:build release

package assert

func That(bool, string, ...any) {}

func NoError(error, string) {}
