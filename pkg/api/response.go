package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ato-project/ato/pkg/engine"
)

// maxBodyBytes bounds JSON request bodies. Mapping imports get importBodyBytes.
const (
	maxBodyBytes    = 1 << 20
	importBodyBytes = 16 << 20
)

// Metadata is the status block of every response.
type Metadata struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Envelope wraps every JSON response. Error responses carry metadata only.
type Envelope struct {
	Metadata Metadata    `json:"metadata"`
	Data     interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(Envelope{
		Metadata: Metadata{Code: code, Message: message},
		Data:     data,
	})
}

func writeOK(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, "OK", data)
}

// writeError maps err onto a status code. Errors outside the engine taxonomy
// are reported as a bare 500 so that internals do not leak.
func writeError(w http.ResponseWriter, err error) {
	code := StatusFor(err)
	message := http.StatusText(code)

	var ee *engine.EngineError
	if errors.As(err, &ee) && code != http.StatusInternalServerError {
		message = ee.Message
		if ee.Resource != "" && ee.Code != engine.ErrCodeValidation {
			message = fmt.Sprintf("%s: %s", ee.Message, ee.Resource)
		}
	}
	writeJSON(w, code, message, nil)
}

// StatusFor returns the HTTP status for an error.
func StatusFor(err error) int {
	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		return http.StatusInternalServerError
	}

	switch ee.Code {
	case engine.ErrCodeValidation:
		return http.StatusBadRequest
	case engine.ErrCodeNotFound:
		return http.StatusNotFound
	case engine.ErrCodeConflict, engine.ErrCodeInvalidState:
		return http.StatusConflict
	case engine.ErrCodeAuth, engine.ErrCodePolicyDenied:
		return http.StatusForbidden
	case engine.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case engine.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	case engine.ErrCodeTransientPlatform, engine.ErrCodeResolution:
		return http.StatusBadGateway
	}

	switch ee.Class {
	case engine.ErrorClassConflict:
		return http.StatusConflict
	case engine.ErrorClassThrottled:
		return http.StatusTooManyRequests
	case engine.ErrorClassTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// decodeJSON reads a JSON body into v. An empty body leaves v untouched when
// optional is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}, optional bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) && optional {
			return nil
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return engine.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return engine.NewValidationError(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}
