package vector

import "errors"

// ErrConnection means the vector backend could not be reached or set up.
// Retrieval treats it as a degraded-evidence condition rather than a
// turn failure.
var ErrConnection = errors.New("vector store connection failed")
