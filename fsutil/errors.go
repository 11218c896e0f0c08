package fsutil

import (
	"errors"
	"syscall"
)

// transientErrnos are the failures a checkpoint rename may hit while another
// process briefly holds the target.
var transientErrnos = []syscall.Errno{syscall.EAGAIN, syscall.EBUSY, syscall.ETIMEDOUT}

func isTransient(err error) bool {
	for _, errno := range transientErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// isUnsupported reports a directory fsync the filesystem cannot do.
func isUnsupported(err error) bool {
	return errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTSUP)
}
