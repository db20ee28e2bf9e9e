package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"checkout-service/internal/cart"
	"checkout-service/internal/checkout"
	"checkout-service/internal/model"
)

// AlertCookie carries a one-shot flash message to the next page view.
const AlertCookie = "alert"

// GenericAlert is shown for cart update failures other than the item limit.
const GenericAlert = "Sorry, something went wrong. Please try again."

// checkoutPath is where cart updates land without a return URL.
const checkoutPath = "/checkout"

// handleGetCart returns the buyer's cart.
// GET /cart
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	c, err := h.checkout.Get(r.Context(), owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

// handleUpdateCart replaces the cart with the submitted state and redirects.
// Failures redirect too, with the reason in a flash cookie.
// PUT /cart
func (h *Handler) handleUpdateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req checkout.UpdateRequest
	err := decodeJSON(r, &req)
	owner, oerr := requireOwner(r)
	if err == nil {
		err = oerr
	}
	if err == nil {
		h.logger.InfoContext(ctx, "updating cart",
			slog.String("owner", owner.CacheKey()),
			slog.Int("items", len(req.Items)),
			slog.Int("discount_codes", len(req.DiscountCodes)),
		)
		_, err = h.checkout.Update(ctx, owner, req)
	}

	target := redirectTarget(req.ReturnURL)
	if err != nil {
		h.logger.WarnContext(ctx, "cart update failed",
			slog.String("owner", owner.CacheKey()),
			slog.String("error", err.Error()),
		)
		setAlert(w, alertFor(err))
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// alertFor picks the buyer-facing message for a failed update.
func alertFor(err error) string {
	var apiErr *model.APIError
	if errors.Is(err, model.ErrCartLimit) && errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return GenericAlert
}

func setAlert(w http.ResponseWriter, msg string) {
	http.SetCookie(w, &http.Cookie{
		Name:     AlertCookie,
		Value:    url.QueryEscape(msg),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// redirectTarget allows only same-site paths.
func redirectTarget(returnURL string) string {
	if strings.HasPrefix(returnURL, "/") && !strings.HasPrefix(returnURL, "//") && !strings.Contains(returnURL, `\`) {
		return returnURL
	}
	return checkoutPath
}

// handleClearCart empties the cart.
// DELETE /cart
func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.checkout.Clear(r.Context(), owner); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type addItemRequest struct {
	Permalink         string            `json:"permalink"`
	OptionID          string            `json:"option_id,omitempty"`
	Quantity          int               `json:"quantity"`
	Recurrence        string            `json:"recurrence,omitempty"`
	RentFirst         bool              `json:"rent_first,omitempty"`
	Referrer          string            `json:"referrer,omitempty"`
	URLParameters     map[string]string `json:"url_parameters,omitempty"`
	PayInInstallments bool              `json:"pay_in_installments,omitempty"`
	TipCents          int64             `json:"tip_cents,omitempty"`
}

func (req addItemRequest) params() cart.AddParams {
	return cart.AddParams{
		OptionID:          req.OptionID,
		Quantity:          req.Quantity,
		Recurrence:        req.Recurrence,
		RentFirst:         req.RentFirst,
		Referrer:          req.Referrer,
		URLParameters:     req.URLParameters,
		PayInInstallments: req.PayInInstallments,
		TipCents:          req.TipCents,
	}
}

// handleAddItem adds a product to the cart.
// POST /cart/items
func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req addItemRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Permalink == "" {
		h.writeError(w, model.NewValidationError("permalink", "required"))
		return
	}

	c, err := h.checkout.AddItem(r.Context(), owner, req.Permalink, req.params())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

// handleRemoveItem removes one item. The option is taken from ?option_id.
// DELETE /cart/items/{permalink}
func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	c, err := h.checkout.RemoveItem(r.Context(), owner, r.PathValue("permalink"), r.URL.Query().Get("option_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

type setQuantityRequest struct {
	Quantity int `json:"quantity"`
}

// handleSetQuantity changes an item's quantity. The option is taken from
// ?option_id.
// PATCH /cart/items/{permalink}
func (h *Handler) handleSetQuantity(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req setQuantityRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	c, err := h.checkout.SetQuantity(r.Context(), owner, r.PathValue("permalink"), r.URL.Query().Get("option_id"), req.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

// DELETE /cart/discount-codes/{code}
func (h *Handler) handleRemoveDiscountCode(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	c, err := h.checkout.RemoveDiscountCode(r.Context(), owner, r.PathValue("code"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

// handleQuote prices the cart.
// GET /cart/quote
func (h *Handler) handleQuote(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	quote, err := h.checkout.Quote(r.Context(), owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, quote)
}
