package artifact

import "errors"

// ErrNotFound is returned when an artifact (or the requested version of it)
// does not exist for the session.
var ErrNotFound = errors.New("artifact not found")
