package actions

import (
	"os"
	"path/filepath"
)

// FileAppender appends lines to a named append-only log resource in a
// local storage area. The log_alert action is its only caller.
type FileAppender interface {
	Append(filename string, line []byte) error
}

// DirAppender writes append-only logs as files under a base directory.
type DirAppender struct {
	dir string
}

// NewDirAppender creates a DirAppender rooted at dir.
func NewDirAppender(dir string) *DirAppender {
	return &DirAppender{dir: dir}
}

// Append writes line plus a trailing newline to the named file,
// creating the directory and file as needed.
func (a *DirAppender) Append(filename string, line []byte) error {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(a.dir, filename), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}
