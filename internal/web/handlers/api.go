package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/znz-systems/courier/internal/campaign"
	"github.com/znz-systems/courier/internal/queue"
)

const maxRequestBodyBytes int64 = 1024 * 1024

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// jsonResponse is the envelope for simple API JSON responses.
type jsonResponse struct {
	OK    bool   `json:"ok,omitempty"`
	Error string `json:"error,omitempty"`
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// decodeJSON reads a size-limited JSON body into dst and validates it. On
// failure it writes the error response and returns false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, jsonResponse{Error: "payload too large"})
			return false
		}
		var schedErr *scheduleError
		if errors.As(err, &schedErr) {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: schedErr.Error()})
			return false
		}
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return false
	}
	if err := validate.Struct(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: validationMessage(err)})
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fe.Field() + " must be a valid email address"
	case "gt", "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), minParam(fe))
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

func minParam(fe validator.FieldError) string {
	if fe.Tag() == "gt" {
		n, err := strconv.Atoi(fe.Param())
		if err == nil {
			return strconv.Itoa(n + 1)
		}
	}
	if fe.Kind() == reflect.Slice {
		return fe.Param() + " item(s)"
	}
	return fe.Param()
}

// writeServiceError maps service errors onto HTTP status codes. Unknown
// errors are logged and reported as a generic 500.
// deliveryErrorMessage is reported when a send_immediately batch fails after
// the rows were queued. They stay pending for the worker.
const deliveryErrorMessage = "delivery attempt failed; email remains queued"

func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case queue.IsValidation(err):
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: err.Error()})
	case errors.Is(err, queue.ErrTemplateNotFound),
		errors.Is(err, queue.ErrRecipientNotFound),
		errors.Is(err, queue.ErrEmailNotFound),
		errors.Is(err, campaign.ErrCampaignNotFound):
		writeJSON(w, http.StatusNotFound, jsonResponse{Error: err.Error()})
	default:
		slog.ErrorContext(r.Context(), "failed to "+op, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
	}
}

type scheduleError struct {
	msg string
}

func (e *scheduleError) Error() string { return e.msg }

// scheduleSpec accepts either a number of hours to delay, as a JSON number
// or numeric string, or an absolute date-time string.
type scheduleSpec struct {
	schedule queue.Schedule
}

var scheduleLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"}

func (s *scheduleSpec) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		s.schedule = queue.Now()
		return nil
	}
	var hours float64
	if err := json.Unmarshal(data, &hours); err == nil {
		s.schedule = queue.After(hours)
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return &scheduleError{msg: "schedule_time must be a number of hours or a date-time"}
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		s.schedule = queue.Now()
		return nil
	}
	if hours, err := strconv.ParseFloat(raw, 64); err == nil {
		s.schedule = queue.After(hours)
		return nil
	}
	for _, layout := range scheduleLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			s.schedule = queue.At(t)
			return nil
		}
	}
	return &scheduleError{msg: fmt.Sprintf("schedule_time %q is not a recognised date-time", raw)}
}

func (s *scheduleSpec) value() queue.Schedule {
	if s == nil {
		return queue.Now()
	}
	return s.schedule
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
