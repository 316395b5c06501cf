package util

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfRange     = errors.New("page or slot id out of range")
	ErrPageFull       = errors.New("page full")
	ErrTombstonedSlot = errors.New("slot is tombstoned")
	ErrCorruptPage    = errors.New("corrupt page")
	ErrIoFailure      = errors.New("i/o failure")
	ErrKeyNotFound    = errors.New("key not found")
	ErrDuplicateKey   = errors.New("duplicate key")

	ErrPoolExhausted = errors.New("buffer pool exhausted, every frame is pinned")
	ErrTupleTooLarge = errors.New("tuple larger than a page")
	ErrKeyTooLarge   = errors.New("key too large for index node")
	ErrTableNotFound = errors.New("table not found")
	ErrTableExists   = errors.New("table already exists")
	ErrInvalidValue  = errors.New("invalid value")
	ErrClosed        = errors.New("database closed")
)

// StorageError attaches the failed operation and page to one of the
// sentinel errors above.
type StorageError struct {
	Op     string
	PageId uint32
	Err    error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s page %d: %v", e.Op, e.PageId, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func NewStorageError(op string, pageId uint32, err error) *StorageError {
	return &StorageError{Op: op, PageId: pageId, Err: err}
}

// Corrupt reports a page whose header or slot invariants do not hold.
func Corrupt(op string, pageId uint32, format string, args ...any) error {
	return &StorageError{
		Op:     op,
		PageId: pageId,
		Err:    fmt.Errorf("%w: %s", ErrCorruptPage, fmt.Sprintf(format, args...)),
	}
}

// IoFailure wraps an os level error so callers can branch on ErrIoFailure.
func IoFailure(op string, pageId uint32, err error) error {
	return &StorageError{
		Op:     op,
		PageId: pageId,
		Err:    fmt.Errorf("%w: %v", ErrIoFailure, err),
	}
}
