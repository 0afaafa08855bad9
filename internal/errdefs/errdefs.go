// Package errdefs holds the error taxonomy shared by backup and restore operations.
package errdefs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration reports an invalid request combination.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrManifest reports that no usable manifest could be built.
	ErrManifest = errors.New("manifest error")
	// ErrLockUnavailable is returned by a non-blocking lock attempt on a held lock.
	ErrLockUnavailable = errors.New("lock unavailable")
	// ErrStorage reports a failure at the object-storage boundary.
	ErrStorage = errors.New("storage error")
	// ErrResolution reports a remote path that cannot be mapped back to a relative key.
	ErrResolution = errors.New("resolution error")
)

// StorageError carries the failed provider operation and object key.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is makes every StorageError match ErrStorage.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// Storage wraps err as a StorageError. A nil err stays nil.
func Storage(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Key: key, Err: err}
}

// Configurationf formats a configuration error.
func Configurationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Manifestf formats a manifest error.
func Manifestf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrManifest, fmt.Sprintf(format, args...))
}
