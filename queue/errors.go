package queue

import "errors"

// ErrUnknownID is returned by Pop for an id that is not queued. It means the
// caller popped twice or lost track of its id, so a resource slot leaked.
var ErrUnknownID = errors.New("unknown queue id")
