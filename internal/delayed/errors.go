package delayed

import "errors"

// ErrStopped is returned when scheduling after Stop.
var ErrStopped = errors.New("scheduler stopped")
