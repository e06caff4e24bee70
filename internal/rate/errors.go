package rate

import "errors"

// ErrRedisUnavailable wraps every backend failure. The underlying error stays
// in the chain so callers can tell deadlines from other failures.
var ErrRedisUnavailable = errors.New("redis unavailable")
