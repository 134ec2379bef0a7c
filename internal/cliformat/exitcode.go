package cliformat

import (
	"github.com/acpx/acpx/internal/constants"
	"github.com/acpx/acpx/internal/queueproto"
)

// ExitCodeForResponse maps a terminal response to spec §6's exit codes.
// Permission-denied terminal outcomes affect the exit code but are not an
// error kind (§7), so they're recognized by stop reason rather than by
// DetailCode.
func ExitCodeForResponse(resp queueproto.Response) int {
	if resp.Type == queueproto.ResponseDone && resp.StopReason == "refusal" {
		return constants.ExitPermissionDenied
	}
	if resp.Type != queueproto.ResponseError {
		return constants.ExitSuccess
	}
	switch resp.DetailCode {
	case queueproto.DetailNotAcceptingRequests:
		return constants.ExitTimeout
	default:
		return constants.ExitGenericError
	}
}
