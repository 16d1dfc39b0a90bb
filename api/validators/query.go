package validators

import (
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
)

const maxQueryValueLen = 256

// ParseQueryInt reads an optional integer query parameter bounded to
// [min, max]. A missing value yields fallback.
func ParseQueryInt(r *http.Request, key string, fallback, min, max int) (int, error) {
	raw, err := QueryString(r, key)
	if err != nil || raw == "" {
		return fallback, err
	}
	value, convErr := strconv.Atoi(raw)
	switch {
	case convErr != nil:
		return 0, queryError(key, "must be an integer")
	case value < min || value > max:
		return 0, queryError(key, "must be between "+strconv.Itoa(min)+" and "+strconv.Itoa(max))
	}
	return value, nil
}

// QueryString returns a trimmed query parameter, rejecting oversized values.
func QueryString(r *http.Request, key string) (string, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if len(raw) > maxQueryValueLen {
		return "", queryError(key, "is too long")
	}
	return raw, nil
}

func queryError(key, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "invalid query parameter").
		WithDetails(map[string]string{key: msg})
}
