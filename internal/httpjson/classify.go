package httpjson

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/hupe1980/agentexchange/core"
)

// CreateError classifies a failure while creating a backend session. Any
// failure at this point means the backend could not be reached or refused.
func CreateError(op string, err error) error {
	return core.NewError(core.KindBackendUnavailable, op, err)
}

// CallError classifies a failure on an existing backend session. A missing
// session (404, 410) or an unreachable backend is unavailable. A deadline, a
// malformed answer or any other status is a recoverable backend error.
func CallError(op string, err error) error {
	var ue *url.Error
	switch {
	case core.IsTimeout(err):
		return core.NewError(core.KindBackendError, op, err)
	case IsStatus(err, http.StatusNotFound, http.StatusGone):
		return core.NewError(core.KindBackendUnavailable, op, err)
	case errors.As(err, &ue):
		return core.NewError(core.KindBackendUnavailable, op, err)
	default:
		return core.NewError(core.KindBackendError, op, err)
	}
}
