package dicom

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// ErrWrite marks failures to persist an output instance.
var ErrWrite = errors.New("write failed")

// WriteError reports the file that could not be written.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Path, e.Err)
}

// Unwrap exposes both ErrWrite and the underlying cause.
func (e *WriteError) Unwrap() []error {
	return []error{ErrWrite, e.Err}
}

// Writer persists datasets into one output directory. It is safe for
// concurrent use: file names derive from unique SOP Instance UIDs.
type Writer struct {
	dir   string
	bytes atomic.Int64
	files atomic.Int64
}

// NewWriter returns a writer for dir. The directory is created on first use.
func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// BytesWritten returns the total size of files written so far.
func (w *Writer) BytesWritten() int64 { return w.bytes.Load() }

// FilesWritten returns the number of files written so far.
func (w *Writer) FilesWritten() int64 { return w.files.Load() }

// Write stores ds as <SOPInstanceUID>.dcm, replacing any previous file of the
// same name. Data goes to a temporary file first so a failed write never
// leaves a truncated instance behind.
func (w *Writer) Write(ds *dicom.Dataset) (string, error) {
	uid := stringOf(ds, tag.SOPInstanceUID)
	if uid == "" {
		return "", &WriteError{Path: w.dir, Err: fmt.Errorf("dataset has no SOPInstanceUID")}
	}
	path := filepath.Join(w.dir, uid+".dcm")

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return "", &WriteError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(w.dir, "."+uid+".*.tmp")
	if err != nil {
		return "", &WriteError{Path: path, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func(cause error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", &WriteError{Path: path, Err: cause}
	}

	if err := dicom.Write(tmp, *ds); err != nil {
		return cleanup(err)
	}
	info, err := tmp.Stat()
	if err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return cleanup(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return cleanup(err)
	}

	w.bytes.Add(info.Size())
	w.files.Add(1)
	return path, nil
}
