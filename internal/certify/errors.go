package certify

import "errors"

var (
	ErrModelNotFound    = errors.New("model not found")
	ErrInvalidRegion    = errors.New("region not in allow-list")
	ErrJobNotFound      = errors.New("certification job not found")
	ErrModelUnavailable = errors.New("model unavailable")
	ErrNoDeployments    = errors.New("no deployments match filter")
)
