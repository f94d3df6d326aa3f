package core

import "errors"

// Error kinds shared by the store, classifier, probe engine and project
// context. They are wrapped with context and matched with errors.Is.
var (
	// ErrNotFound: a referenced entity, project or file does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists: a project with the same root already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrTransport: network or timeout failure while probing. The probe
	// engine records it on the result instead of returning it.
	ErrTransport = errors.New("transport error")

	// ErrStoreIO: the persistence layer is unavailable or corrupt.
	ErrStoreIO = errors.New("store unavailable")

	// ErrValidation: malformed input such as reversed range bounds or an
	// empty parameter name.
	ErrValidation = errors.New("validation failed")

	// ErrHasDependents: a parameter cannot be deleted while vulnerabilities
	// still reference it.
	ErrHasDependents = errors.New("has dependent records")
)
