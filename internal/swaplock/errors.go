package swaplock

import (
	"errors"
	"os"
	"time"
)

// ErrContended is returned by Acquire when another process already holds
// the swap's lock file.
var ErrContended = errors.New("swaplock: swap is locked by another process")

// touchFile updates a file's mtime, creating it first if absent.
func touchFile(path string) error {
	now := time.Now()
	if err := os.Chtimes(path, now, now); err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		f, ferr := os.OpenFile(path, os.O_RDONLY|os.O_CREATE, 0o644)
		if ferr != nil {
			return ferr
		}
		return f.Close()
	}
	return nil
}
