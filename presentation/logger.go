package presentation

import (
	"fmt"
	"os"
	"syscall"
)

// reportWriter appends report lines to a file shared with other processes.
type reportWriter struct {
	path string
}

// WriteLine appends line while holding an exclusive lock on the file, so
// that concurrent writers never interleave partial lines.
func (w reportWriter) WriteLine(line []byte) (err error) {
	f, err := os.OpenFile(w.path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	if err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("locking %s: %w", w.path, err)
	}
	defer func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
	}()

	_, err = f.Write(append(line, '\n'))
	return err
}
