package store

import "fmt"

// StorageError wraps any failure from the underlying database. Workers must
// treat it as per-cycle: log, drop this cycle's writes, retry next cycle.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
