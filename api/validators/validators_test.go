package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/keymarket-backend/pkg/errors"
)

type purchaseBody struct {
	ProductID string `json:"productId" validate:"required,uuid"`
	Email     string `json:"email" validate:"required,email"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"productId":"nope","email":"bad"}`))
	var body purchaseBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	typed := pkgerrors.As(err)
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "must be a valid id", details["productId"])
	require.Equal(t, "must be a valid email", details["email"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"productId":"3f0d2a51-7a41-4c3e-a6b5-1a3c4f3a9d10","email":"a@b.co","status":"completed"}`))
	var body purchaseBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyRejectsMalformedShapes(t *testing.T) {
	cases := map[string]string{
		"empty":    ``,
		"trailing": `{"productId":"3f0d2a51-7a41-4c3e-a6b5-1a3c4f3a9d10","email":"a@b.co"}{"x":1}`,
		"type":     `{"productId":42,"email":"a@b.co"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
			var body purchaseBody
			err := DecodeJSONBody(req, &body)
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
		})
	}
}

func TestDecodeJSONBodyAccepts(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"productId":"3f0d2a51-7a41-4c3e-a6b5-1a3c4f3a9d10","email":"a@b.co"}`))
	var body purchaseBody
	require.NoError(t, DecodeJSONBody(req, &body))
	require.Equal(t, "a@b.co", body.Email)
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	_, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	v, err := ParseQueryInt(req, "limit", 25, 1, 100)
	require.NoError(t, err)
	require.Equal(t, 25, v)

	req = httptest.NewRequest(http.MethodGet, "/?limit=abc", nil)
	_, err = ParseQueryInt(req, "limit", 25, 1, 100)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestQueryString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?status=%20open%20", nil)
	v, err := QueryString(req, "status")
	require.NoError(t, err)
	require.Equal(t, "open", v)

	req = httptest.NewRequest(http.MethodGet, "/?cursor="+strings.Repeat("a", 300), nil)
	_, err = QueryString(req, "cursor")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestPathUUID(t *testing.T) {
	req := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "productId", "not-a-uuid")
	_, err := PathUUID(req, "productId")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	req = withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "productId", " 3f0d2a51-7a41-4c3e-a6b5-1a3c4f3a9d10 ")
	id, err := PathUUID(req, "productId")
	require.NoError(t, err)
	require.Equal(t, "3f0d2a51-7a41-4c3e-a6b5-1a3c4f3a9d10", id.String())

	_, err = PathRef(httptest.NewRequest(http.MethodGet, "/", nil), "id")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rc := chi.NewRouteContext()
	rc.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rc))
}
