//go:build !unix

package lock

import (
	"errors"
	"os"
)

var errWouldBlock = errors.New("lock would block")

func tryLock(*os.File) error {
	return errors.New("file locking is only supported on unix platforms")
}

func unlock(*os.File) error { return nil }
