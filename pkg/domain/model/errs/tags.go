package errs

import "github.com/m-mizutani/goerr/v2"

var (
	// Client side
	TagNotFound       = goerr.NewTag("not_found")
	TagValidation     = goerr.NewTag("validation")
	TagInvalidRequest = goerr.NewTag("invalid_request")
	TagConflict       = goerr.NewTag("conflict")

	// Server side
	TagDatabase    = goerr.NewTag("database")
	TagUnavailable = goerr.NewTag("unavailable")
	TagExternal    = goerr.NewTag("external")
	TagInternal    = goerr.NewTag("internal")

	// Business logic
	TagInvalidState = goerr.NewTag("invalid_state")
)

var (
	RepositoryKey = goerr.NewTypedKey[string]("repository")
	AlertIDKey    = goerr.NewTypedKey[string]("alert_id")
)

// IsNotFound reports whether the error chain carries the not_found tag. A
// missing record is usually "not ours to handle" rather than a failure.
func IsNotFound(err error) bool {
	return goerr.HasTag(err, TagNotFound)
}

// IsUnavailable reports whether the error is a transient backend failure that
// will be retried on the next cycle.
func IsUnavailable(err error) bool {
	return goerr.HasTag(err, TagUnavailable)
}
