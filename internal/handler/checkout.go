package handler

import (
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"slices"

	"checkout-service/internal/checkout"
	"checkout-service/internal/evidence"
	"checkout-service/internal/model"
	"checkout-service/internal/processor"
)

// === Offers ===

type answerOfferRequest struct {
	OfferID string `json:"offer_id"`
}

// handleStartOffers presents the first cross-sell or upsell for the cart.
// POST /cart/offers
func (h *Handler) handleStartOffers(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	view, err := h.checkout.StartOffers(r.Context(), owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// POST /cart/offers/accept
func (h *Handler) handleAcceptOffer(w http.ResponseWriter, r *http.Request) {
	h.answerOffer(w, r, true)
}

// POST /cart/offers/decline
func (h *Handler) handleDeclineOffer(w http.ResponseWriter, r *http.Request) {
	h.answerOffer(w, r, false)
}

// handleCancelOffers abandons the offer flow.
// POST /cart/offers/cancel
func (h *Handler) handleCancelOffers(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}

	view, err := h.checkout.CancelOffers(r.Context(), owner)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

func (h *Handler) answerOffer(w http.ResponseWriter, r *http.Request, accept bool) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req answerOfferRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.OfferID == "" {
		h.writeError(w, model.NewValidationError("offer_id", "required"))
		return
	}

	h.logger.InfoContext(r.Context(), "answering offer",
		slog.String("owner", owner.CacheKey()),
		slog.String("offer_id", req.OfferID),
		slog.Bool("accept", accept),
	)

	view, err := h.checkout.AnswerOffer(r.Context(), owner, req.OfferID, accept)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, view)
}

// === Checkout ===

// handleSubmit charges the cart.
// POST /checkout
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req checkout.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	req.IPAddress = clientIP(r)

	h.logger.InfoContext(ctx, "submitting checkout",
		slog.String("owner", owner.CacheKey()),
		slog.String("processor", req.Processor),
	)

	outcome, err := h.checkout.Submit(ctx, owner, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	status := http.StatusOK
	if outcome.Kind == checkout.OutcomeFailed {
		status = http.StatusPaymentRequired
	}
	h.writeJSON(w, status, outcome)
}

// === Payment sheet ===

// handlePreparePayment opens a processor order for the cart. The processor's
// answer is passed through; a non-2xx answer is reported as 502.
// POST /cart/payment
func (h *Handler) handlePreparePayment(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req checkout.PaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.checkout.PreparePayment(r.Context(), owner, req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, processorStatus(resp), resp)
}

type updatePaymentRequest struct {
	Processor string `json:"processor"`
}

// PATCH /cart/payment/{order_id}
func (h *Handler) handleUpdatePayment(w http.ResponseWriter, r *http.Request) {
	owner, err := requireOwner(r)
	if err != nil {
		h.writeError(w, err)
		return
	}
	var req updatePaymentRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.checkout.UpdatePayment(r.Context(), owner, req.Processor, r.PathValue("order_id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, processorStatus(resp), resp)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// === Post-purchase ===

type refundRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Reason      string `json:"reason"`
}

// handleRefund refunds a purchase through its processor. The processor's
// answer is passed through; a non-2xx answer is reported as 502.
// POST /purchases/{id}/refund
func (h *Handler) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(r, &req); err != nil {
		h.writeError(w, err)
		return
	}

	resp, err := h.disputes.Refund(r.Context(), r.PathValue("id"), req.AmountCents, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, processorStatus(resp), resp)
}

// handleCapture captures an authorized purchase.
// POST /purchases/{id}/capture
func (h *Handler) handleCapture(w http.ResponseWriter, r *http.Request) {
	resp, err := h.disputes.Capture(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, processorStatus(resp), resp)
}

func processorStatus(resp *processor.Response) int {
	if resp.OK() {
		return http.StatusOK
	}
	return http.StatusBadGateway
}

// MaxEvidenceBodySize caps a multipart evidence submission.
const MaxEvidenceBodySize = 64 << 20

// evidenceMemory is how much of a multipart form is held in memory before
// spilling to temp files.
const evidenceMemory = 16 << 20

// handleSubmitEvidence accepts the seller's answers as form fields and files
// keyed by slot name.
// POST /disputes/{purchase_id}/evidence
func (h *Handler) handleSubmitEvidence(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, MaxEvidenceBodySize)
	if err := r.ParseMultipartForm(evidenceMemory); err != nil {
		h.writeError(w, model.NewValidationError("body", "invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	fields := evidence.Fields{
		ProductDescription: r.FormValue("product_description"),
		CustomerName:       r.FormValue("customer_name"),
		PolicyDisclosure:   r.FormValue("policy_disclosure"),
		ShippingCarrier:    r.FormValue("shipping_carrier"),
		TrackingNumber:     r.FormValue("tracking_number"),
		Explanation:        r.FormValue("explanation"),
		AccessActivityLog:  r.FormValue("access_activity_log"),
		AdditionalInfo:     r.FormValue("additional_info"),
	}

	// Slots are read in name order so size limits apply deterministically.
	slots := make([]string, 0, len(r.MultipartForm.File))
	for slot := range r.MultipartForm.File {
		slots = append(slots, slot)
	}
	slices.Sort(slots)

	var uploads []evidence.Upload
	for _, slot := range slots {
		for _, fh := range r.MultipartForm.File[slot] {
			data, err := readFormFile(fh)
			if err != nil {
				h.writeError(w, model.NewValidationError("file", "unreadable upload "+fh.Filename))
				return
			}
			uploads = append(uploads, evidence.Upload{
				Slot: processor.Slot(slot),
				Name: fh.Filename,
				Data: data,
			})
		}
	}

	purchaseID := r.PathValue("purchase_id")
	h.logger.InfoContext(ctx, "submitting dispute evidence",
		slog.String("purchase_id", purchaseID),
		slog.Int("files", len(uploads)),
	)

	result, err := h.disputes.SubmitEvidence(ctx, purchaseID, fields, uploads)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, processorStatus(result.Response), result)
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
