package errors

import "errors"

// Upload client errors.
var (
	ErrUploadRejected    = errors.New("upload rejected by server")
	ErrMissingRemotePath = errors.New("upload response missing remote_path")
)

// Staging workspace errors.
var (
	ErrNoManifest = errors.New("stage manifest not found")
)

// Draft store errors.
var (
	ErrDraftNotFound = errors.New("no draft for record")
)
