package cart

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/drblury/shopmesh/internal/runtime/auth"
	"github.com/drblury/shopmesh/internal/runtime/httperr"
	"github.com/drblury/shopmesh/internal/runtime/jsoncodec"
	"github.com/drblury/shopmesh/internal/runtime/logging"
)

// PathPrefix is where the cart API is mounted.
const PathPrefix = "/api/cart/"

// View is the JSON representation of a cart.
type View struct {
	UserID           int64  `json:"user_id"`
	Items            []Item `json:"items"`
	TotalItems       int    `json:"total_items"`
	TotalAmountCents int64  `json:"total_amount_cents"`
}

func viewOf(c Cart) View {
	items := c.Items
	if items == nil {
		items = []Item{}
	}
	return View{
		UserID:           c.UserID,
		Items:            items,
		TotalItems:       c.TotalItems(),
		TotalAmountCents: c.TotalAmountCents(),
	}
}

type api struct {
	store  Store
	logger logging.ServiceLogger
}

// NewHTTPHandler serves the cart of the authenticated user. It expects an
// auth.Identity in the request context, so mount it behind the edge chain.
//
//	GET    /api/cart/                  current cart (empty when none exists)
//	POST   /api/cart/items/            add an item
//	DELETE /api/cart/items/{product}/  remove a line
//	DELETE /api/cart/                  empty the cart
func NewHTTPHandler(store Store, logger logging.ServiceLogger) http.Handler {
	if logger == nil {
		logger = logging.Nop()
	}
	a := &api{store: store, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PathPrefix, a.get)
	mux.HandleFunc("DELETE "+PathPrefix, a.clear)
	mux.HandleFunc("POST "+PathPrefix+"items/", a.addItem)
	mux.HandleFunc("DELETE "+PathPrefix+"items/{product}/", a.removeItem)
	return mux
}

func userID(r *http.Request) (int64, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return 0, false
	}
	uid, err := strconv.ParseInt(id.SubjectID, 10, 64)
	if err != nil || uid <= 0 {
		return 0, false
	}
	return uid, true
}

func (a *api) get(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		httperr.Write(w, http.StatusUnauthorized, auth.MessageAuthRequired)
		return
	}
	c, err := a.store.Get(r.Context(), uid)
	if errors.Is(err, ErrNotFound) {
		c, err = Cart{UserID: uid}, nil
	}
	if err != nil {
		a.fail(w, "load cart", err, uid)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(c))
}

func (a *api) addItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		httperr.Write(w, http.StatusUnauthorized, auth.MessageAuthRequired)
		return
	}
	var item Item
	if err := jsoncodec.Decode(r.Body, &item); err != nil {
		httperr.Write(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	c, err := a.store.AddItem(r.Context(), uid, item)
	if errors.Is(err, ErrInvalidItem) {
		httperr.Write(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		a.fail(w, "add cart item", err, uid)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(c))
}

func (a *api) removeItem(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		httperr.Write(w, http.StatusUnauthorized, auth.MessageAuthRequired)
		return
	}
	productID, err := strconv.ParseInt(r.PathValue("product"), 10, 64)
	if err != nil {
		httperr.Write(w, http.StatusBadRequest, "Invalid product id")
		return
	}
	if err := a.store.RemoveItem(r.Context(), uid, productID); err != nil {
		a.fail(w, "remove cart item", err, uid)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) clear(w http.ResponseWriter, r *http.Request) {
	uid, ok := userID(r)
	if !ok {
		httperr.Write(w, http.StatusUnauthorized, auth.MessageAuthRequired)
		return
	}
	if err := a.store.Clear(r.Context(), uid); err != nil && !errors.Is(err, ErrNotFound) {
		a.fail(w, "clear cart", err, uid)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) fail(w http.ResponseWriter, op string, err error, uid int64) {
	a.logger.Error("Cart request failed", err, logging.LogFields{"op": op, "user_id": uid})
	httperr.Write(w, http.StatusInternalServerError, "Internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsoncodec.Encode(w, v)
}
