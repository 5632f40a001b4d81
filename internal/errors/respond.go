package errors

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// errorBody is the structured JSON envelope rendered to clients for every
// escalated failure.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp string `json:"timestamp"`
}

// WriteError renders err as the structured JSON error envelope. The request
// correlation id is taken from the X-Request-Id response header, which the
// server middleware sets before handlers run.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	pe := AsError(err)

	requestID := w.Header().Get("X-Request-Id")
	body := errorBody{
		Error: errorDetail{
			Code:      pe.Code,
			Message:   pe.Message,
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	if pe.HTTPStatus >= 500 {
		slog.Error("request failed", "code", pe.Code, "error", pe, "request_id", requestID, "path", r.URL.Path)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(pe.HTTPStatus)
	if encErr := json.NewEncoder(w).Encode(body); encErr != nil {
		slog.Error("failed to encode error response", "error", encErr)
	}
}
