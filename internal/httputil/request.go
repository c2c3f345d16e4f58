package httputil

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	apperrors "github.com/cardkeep/signal_layer/internal/errors"
	"github.com/cardkeep/signal_layer/internal/logging"
)

// MaxRequestBodyBytes bounds JSON request bodies.
const MaxRequestBodyBytes = 64 << 10

// ErrBodyTooLarge is returned by ReadAllStrict when the limit is exceeded.
var ErrBodyTooLarge = errors.New("body exceeds size limit")

// DecodeJSON decodes the request body into v. On failure it writes a 400 and
// returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			WriteError(w, r, apperrors.BadRequest("request body too large"))
		case errors.Is(err, io.EOF):
			WriteError(w, r, apperrors.BadRequest("request body required"))
		default:
			WriteError(w, r, apperrors.BadRequest("invalid JSON body"))
		}
		return false
	}
	return true
}

// DecodeOptionalJSON is DecodeJSON that accepts an empty body.
func DecodeOptionalJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		WriteError(w, r, apperrors.BadRequest("invalid JSON body"))
		return false
	}
	return true
}

// RequireUserID returns the caller identity placed in the request context by
// the auth middleware. Writes a 401 and returns false when there is none.
func RequireUserID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if userID := strings.TrimSpace(logging.GetUserID(r.Context())); userID != "" {
		return userID, true
	}
	WriteError(w, r, apperrors.Unauthorized(""))
	return "", false
}

// ReadAllWithLimit reads up to limit bytes and reports whether the reader had more.
func ReadAllWithLimit(r io.Reader, limit int64) ([]byte, bool, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, false, err
	}
	if n > limit {
		return buf.Bytes()[:limit], true, nil
	}
	return buf.Bytes(), false, nil
}

// ReadAllStrict reads r fully, failing if it exceeds limit bytes.
func ReadAllStrict(r io.Reader, limit int64) ([]byte, error) {
	body, truncated, err := ReadAllWithLimit(r, limit)
	if err != nil {
		return nil, err
	}
	if truncated {
		return nil, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, limit)
	}
	return body, nil
}
