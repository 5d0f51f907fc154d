//go:build !linux

package core

import "errors"

var errThreadNiceUnsupported = errors.New("chronos: thread nice is only supported on linux")

func applyThreadNice(nice int) error {
	return errThreadNiceUnsupported
}

// ThreadNice returns the nice value of the calling thread.
func ThreadNice() (int, error) {
	return 0, errThreadNiceUnsupported
}
