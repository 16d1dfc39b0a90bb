package validators

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
)

// PathRef returns a required path parameter, trimmed.
func PathRef(r *http.Request, name string) (string, error) {
	raw := strings.TrimSpace(chi.URLParam(r, name))
	if raw == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, name+" is required")
	}
	return raw, nil
}

// PathUUID parses a required uuid path parameter.
func PathUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw, err := PathRef(r, name)
	if err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid "+name).
			WithDetails(map[string]any{"field": name})
	}
	return id, nil
}
