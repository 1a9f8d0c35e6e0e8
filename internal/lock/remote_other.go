//go:build !darwin && !linux

package lock

import "errors"

func filesystemKind(string) (string, error) {
	return "", errors.New("filesystem type is not available on this platform")
}
