package orchestrator

import (
	"errors"

	"github.com/kiranshivaraju/tidyflow/pkg/models"
)

// Errors returned synchronously by Service operations. Stage failures and
// timeouts are never returned; they are recorded on the job.
var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("job not found")
	ErrInvalidState = errors.New("operation not valid in current job state")
	ErrNotReady     = errors.New("job artifact not ready")
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

// Kind maps an error from this package to its models.ErrorKind* name.
// Unknown errors map to "".
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return models.ErrorKindInvalidInput
	case errors.Is(err, ErrNotFound):
		return models.ErrorKindNotFound
	case errors.Is(err, ErrInvalidState):
		return models.ErrorKindInvalidState
	case errors.Is(err, ErrNotReady):
		return models.ErrorKindNotReady
	}
	return ""
}
