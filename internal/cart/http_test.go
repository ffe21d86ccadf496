package cart

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/shopmesh/internal/runtime/auth"
	"github.com/drblury/shopmesh/internal/runtime/jsoncodec"
)

func cartRequest(t *testing.T, h http.Handler, method, path, body, subject string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if subject != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{SubjectID: subject}))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) View {
	t.Helper()
	var v View
	require.NoError(t, jsoncodec.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHTTPHandlerLifecycle(t *testing.T) {
	h := NewHTTPHandler(NewMemoryStore(nil), nil)

	rec := cartRequest(t, h, http.MethodGet, "/api/cart/", "", "7")
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeView(t, rec)
	assert.Equal(t, int64(7), v.UserID)
	assert.NotNil(t, v.Items)
	assert.Empty(t, v.Items)

	rec = cartRequest(t, h, http.MethodPost, "/api/cart/items/", `{"product_id":1,"product_name":"Mug","price_cents":1250,"quantity":2}`, "7")
	require.Equal(t, http.StatusCreated, rec.Code)
	v = decodeView(t, rec)
	assert.Equal(t, 2, v.TotalItems)
	assert.Equal(t, int64(2500), v.TotalAmountCents)

	rec = cartRequest(t, h, http.MethodPost, "/api/cart/items/", `{"product_id":2,"price_cents":300,"quantity":1}`, "7")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = cartRequest(t, h, http.MethodDelete, "/api/cart/items/1/", "", "7")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	v = decodeView(t, cartRequest(t, h, http.MethodGet, "/api/cart/", "", "7"))
	require.Len(t, v.Items, 1)
	assert.Equal(t, int64(2), v.Items[0].ProductID)

	v = decodeView(t, cartRequest(t, h, http.MethodGet, "/api/cart/", "", "8"))
	assert.Empty(t, v.Items, "carts are per user")

	assert.Equal(t, http.StatusNoContent, cartRequest(t, h, http.MethodDelete, "/api/cart/", "", "7").Code)
	v = decodeView(t, cartRequest(t, h, http.MethodGet, "/api/cart/", "", "7"))
	assert.Empty(t, v.Items)
}

func TestHTTPHandlerRejectsBadRequests(t *testing.T) {
	h := NewHTTPHandler(NewMemoryStore(nil), nil)

	assert.Equal(t, http.StatusUnauthorized, cartRequest(t, h, http.MethodGet, "/api/cart/", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, cartRequest(t, h, http.MethodGet, "/api/cart/", "", "not-a-number").Code)
	assert.Equal(t, http.StatusBadRequest, cartRequest(t, h, http.MethodPost, "/api/cart/items/", `{`, "7").Code)
	assert.Equal(t, http.StatusBadRequest, cartRequest(t, h, http.MethodPost, "/api/cart/items/", `{"product_id":1,"quantity":0}`, "7").Code)
	assert.Equal(t, http.StatusBadRequest, cartRequest(t, h, http.MethodDelete, "/api/cart/items/abc/", "", "7").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, cartRequest(t, h, http.MethodPut, "/api/cart/", "", "7").Code)
}
