package docker

import "errors"

// ErrContainerNotFound indicates the runtime has no container matching the
// requested name. Distinct from a store-level not-found.
var ErrContainerNotFound = errors.New("docker: container not found")
