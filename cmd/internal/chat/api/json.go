package chatapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/chat"
)

var errExtraData = errors.New("extra data after JSON object")

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errorResponse is the envelope of every non-2xx response: {"error":{"code","message"}}.
type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: msg}})
}

// chatErrorStatus maps the chat error taxonomy onto a status, a stable code and
// a client-safe message. internal is true when nothing about err may be shown.
func chatErrorStatus(err error) (status int, code, msg string, internal bool) {
	switch {
	case chat.IsNotFound(err):
		return http.StatusNotFound, "not_found", chat.PublicMessage(err, "not found"), false
	case chat.IsForbidden(err):
		return http.StatusForbidden, "forbidden", chat.PublicMessage(err, "forbidden"), false
	case chat.IsInvalidInput(err):
		return http.StatusBadRequest, "invalid_request", chat.PublicMessage(err, "invalid request"), false
	case chat.IsConflict(err):
		return http.StatusConflict, "conflict", "please retry", false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "server_busy", "please retry later", true
	default:
		return http.StatusInternalServerError, "server_error", "internal error", true
	}
}

// decodeJSON reads exactly one JSON object of at most maxBytes into dst.
// Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, maxBytes int64, dst any) error {
	if r.Body == nil {
		return io.EOF
	}
	defer func() { _ = r.Body.Close() }()

	body := http.MaxBytesReader(w, r.Body, maxBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errExtraData
	}
	return nil
}

// writeDecodeError answers a failed decodeJSON.
func writeDecodeError(w http.ResponseWriter, err error) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
	case errors.Is(err, io.EOF):
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is required")
	default:
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
	}
}
