package telemetry

import (
	"github.com/sells-group/pipeline-intel/internal/model"
)

// OutcomeOf maps an error to an event outcome.
func OutcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case model.IsNotFound(err):
		return OutcomeNotFound
	case model.IsInvalidInput(err):
		return OutcomeInvalid
	case model.IsUpstreamTimeout(err):
		return OutcomeTimeout
	default:
		return OutcomeError
	}
}
