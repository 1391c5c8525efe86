package inference

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/BaSui01/ensembleflow/types"
	"github.com/BaSui01/ensembleflow/workflow"
)

// maxErrorBody bounds how much of an error response is read into a message.
const maxErrorBody = 4096

// serverError is the JSON error body returned by the model server.
type serverError struct {
	Code    int    `json:"code"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// readErrMsg extracts a readable message and the exception type from an
// error response body.
func readErrMsg(body io.Reader) (msg, kind string) {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	var se serverError
	if err := json.Unmarshal(data, &se); err == nil && se.Message != "" {
		return se.Message, se.Type
	}
	return strings.TrimSpace(string(data)), ""
}

// mapHTTPError converts a non-2xx response into an invocation error.
func mapHTTPError(status int, msg, kind string, ref workflow.ServiceRef) *types.Error {
	if msg == "" {
		msg = http.StatusText(status)
	}

	code := types.ErrExecutionFault
	if status == http.StatusNotFound {
		switch {
		case strings.Contains(kind, "VersionNotFound"):
			code = types.ErrTargetVersionNotFound
		case strings.Contains(kind, "NotFound"):
			code = types.ErrTargetNotFound
		case ref.Version != "":
			code = types.ErrTargetVersionNotFound
		default:
			code = types.ErrTargetNotFound
		}
	}

	return types.NewError(code, msg).
		WithHTTPStatus(status).
		WithModel(ref.Model)
}

// transportError classifies a failure that produced no HTTP response.
func transportError(ctx context.Context, err error, ref workflow.ServiceRef) *types.Error {
	code := types.ErrExecutionFault
	if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = types.ErrInterrupted
	}
	return types.NewError(code, "model server request failed").
		WithCause(err).
		WithModel(ref.Model)
}
