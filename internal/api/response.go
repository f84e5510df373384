package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// errorBody is the shape of every error response.
type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

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
	jsonResponse(w, status, errorBody{Error: message})
}

// jsonErrorCode writes a JSON error response with a machine-readable code.
func jsonErrorCode(w http.ResponseWriter, status int, code, message string) {
	jsonResponse(w, status, errorBody{Error: message, Code: code})
}

// decodeJSON decodes a JSON request body into target and validates it
// against its `validate` struct tags. Errors are written to w; the return
// value reports whether the handler may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return false
	}

	if err := validate.Struct(target); err != nil {
		var ve validator.ValidationErrors
		if !errors.As(err, &ve) {
			jsonError(w, http.StatusBadRequest, "invalid request body")
			return false
		}
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = describe(fe)
		}
		jsonResponse(w, http.StatusBadRequest, errorBody{
			Error:  "validation failed",
			Code:   "validation",
			Fields: fields,
		})
		return false
	}
	return true
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "required"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "email":
		return "must be an email address"
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}
