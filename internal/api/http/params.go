package http

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/arkilian/eventlens/internal/errors"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// intParam reads an integer query parameter, returning def when absent.
func intParam(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewValidationError(errors.CodeInvalidArgument,
			fmt.Sprintf("%s must be an integer, got %q", name, raw)).
			WithDetails(map[string]interface{}{"field": name})
	}
	return v, nil
}

// timeParam reads an RFC 3339 query parameter. It returns nil when absent.
func timeParam(r *http.Request, name string) (*time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, errors.NewValidationError(errors.CodeInvalidArgument,
			fmt.Sprintf("%s must be an RFC 3339 timestamp, got %q", name, raw)).
			WithDetails(map[string]interface{}{"field": name})
	}
	return &t, nil
}

// requiredTime is timeParam for parameters that must be present.
func requiredTime(r *http.Request, name string) (time.Time, error) {
	t, err := timeParam(r, name)
	if err != nil {
		return time.Time{}, err
	}
	if t == nil {
		return time.Time{}, errors.NewValidationError(errors.CodeEmptyField, name+" is required").
			WithDetails(map[string]interface{}{"field": name})
	}
	return *t, nil
}

func projectParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("project"))
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.NewValidationError(errors.CodeInvalidArgument, fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// clientIP returns the first X-Forwarded-For entry, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
