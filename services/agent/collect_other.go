//go:build !linux

package agent

// Collect has nothing to enumerate off Linux; agents only ever run on
// deployed Linux machines, but the package still builds elsewhere for tests
// and cross-compilation.
func Collect() (Report, error) {
	return Report{}, nil
}
