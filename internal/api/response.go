package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/erazemk/najdeno/internal/validation"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

type validationResponse struct {
	Error  string                  `json:"error"`
	Fields []validation.FieldError `json:"fields"`
}

// validationFailed writes a 400 with one entry per failed field. Errors that
// are not validation errors are reported as a bad request body.
func validationFailed(w http.ResponseWriter, err error) {
	var verr *validation.RequestValidationError
	if !errors.As(err, &verr) {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	jsonResponse(w, http.StatusBadRequest, validationResponse{Error: "validation failed", Fields: verr.Fields})
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes)).Decode(target)
}

// decodeAndValidate decodes the body into target and validates it.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeJSON(r, target); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validation.Struct(target); err != nil {
		validationFailed(w, err)
		return false
	}
	return true
}
