package gallery

import (
	"context"
	"fmt"
)

// UploadResult is what the upload collaborator returns for one file.
type UploadResult struct {
	RemotePath string
}

// Uploader uploads one file and returns its server-assigned path. The
// fields map carries caller-supplied extra form fields. Implementations
// live outside this package; any error aborts the commit.
type Uploader interface {
	Upload(ctx context.Context, src Source, fields map[string]string) (UploadResult, error)
}

// CommitError reports the entry that failed during Commit. Pos is the
// 1-based position of the failing entry in the collection, Filename its
// source filename, so the host can name the offending file to the user.
type CommitError struct {
	Pos      int
	Filename string
	Err      error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("uploading image %d (%s): %v", e.Pos, e.Filename, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// Commit uploads every staged local entry strictly in collection order,
// one at a time, converting each in place to a remote entry tagged add.
// The slot and the entry ID are preserved, so order is never disturbed
// by the conversion.
//
// On the first failure Commit stops and returns a *CommitError. Entries
// before the failure are already converted and entries after it are
// still local, so a retry resumes without re-uploading anything. After
// a nil return no local entries remain.
func (c *Collection) Commit(ctx context.Context, up Uploader, fields map[string]string) error {
	for pos, e := range c.Entries() {
		src, staged := e.stagedSource()
		if !staged {
			continue
		}

		if err := ctx.Err(); err != nil {
			return &CommitError{Pos: pos + 1, Filename: src.Filename(), Err: err}
		}

		res, err := up.Upload(ctx, src, fields)
		if err != nil {
			return &CommitError{Pos: pos + 1, Filename: src.Filename(), Err: err}
		}

		c.convertToRemote(e, res.RemotePath)
	}

	return nil
}

// convertToRemote flips a local entry to a committed remote entry in
// place, keeping its ID and storage slot, and releases its preview.
func (c *Collection) convertToRemote(e *Entry, remotePath string) {
	c.mu.Lock()

	e.releasePreview()
	e.kind = KindRemote
	e.path = remotePath
	e.state = StateAdd
	e.source = nil
	e.preview = ""

	c.mu.Unlock()

	c.notify()
}
