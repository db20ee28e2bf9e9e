// Package evidence assembles dispute evidence from a purchase, the seller's
// written answers and uploaded files, applying the limits of the purchase's
// payment processor. Files that break a limit are skipped and logged; they
// never fail the submission.
package evidence

import (
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"checkout-service/internal/metrics"
	"checkout-service/internal/model"
	"checkout-service/internal/processor"
)

// MIME types accepted as evidence.
const (
	TypePDF  = "application/pdf"
	TypePNG  = "image/png"
	TypeJPEG = "image/jpeg"
	TypeGIF  = "image/gif"
)

// SlotPolicy is an upload slot resolved by purchase type: the cancellation
// policy for subscriptions, the refund policy otherwise.
const SlotPolicy processor.Slot = "policy"

// SlotSpec declares an attachment slot and the types it accepts.
type SlotSpec struct {
	Slot  processor.Slot
	Label string
	Types []string
}

// Slots lists every attachment slot.
var Slots = []SlotSpec{
	{Slot: processor.SlotReceipt, Label: "Receipt", Types: []string{TypePDF, TypePNG, TypeJPEG}},
	{Slot: processor.SlotCancellationPolicy, Label: "Cancellation policy", Types: []string{TypePDF, TypePNG, TypeJPEG}},
	{Slot: processor.SlotRefundPolicy, Label: "Refund policy", Types: []string{TypePDF, TypePNG, TypeJPEG}},
	{Slot: processor.SlotCustomerCommunication, Label: "Customer communication", Types: []string{TypePDF, TypePNG, TypeJPEG, TypeGIF}},
	{Slot: processor.SlotUncategorized, Label: "Other", Types: []string{TypePDF, TypePNG, TypeJPEG, TypeGIF}},
}

// SlotFor returns the accepted types for a slot.
func SlotFor(slot processor.Slot) (SlotSpec, bool) {
	for _, s := range Slots {
		if s.Slot == slot {
			return s, true
		}
	}
	return SlotSpec{}, false
}

// PolicySlot picks the policy document slot for the purchase.
func PolicySlot(p *model.Purchase) processor.Slot {
	if p.IsSubscription {
		return processor.SlotCancellationPolicy
	}
	return processor.SlotRefundPolicy
}

// === Processor profiles ===

const mb = 1 << 20

// Profile holds a processor's evidence limits.
type Profile struct {
	Processor     string
	MaxFileBytes  int64
	MaxTotalBytes int64
	Types         []string
	MaxNotesRunes int
	// FieldsInNotes is set for processors without product, customer and
	// policy fields; those answers are written into the notes instead.
	FieldsInNotes bool
}

var (
	PayPalProfile = Profile{
		Processor:     model.ProcessorPayPal,
		MaxFileBytes:  10 * mb,
		MaxTotalBytes: 50 * mb,
		Types:         []string{TypeJPEG, TypeGIF, TypePNG, TypePDF},
		MaxNotesRunes: 2000,
		FieldsInNotes: true,
	}
	StripeProfile = Profile{
		Processor:     model.ProcessorStripe,
		MaxFileBytes:  9 * mb / 2,
		MaxTotalBytes: 9 * mb / 2,
		Types:         []string{TypePDF, TypeJPEG, TypePNG},
		MaxNotesRunes: 20000,
	}
)

// ProfileFor returns the limits for a processor id. Unknown processors get
// the Stripe profile, the stricter of the two.
func ProfileFor(processorID string) Profile {
	if processorID == model.ProcessorPayPal {
		return PayPalProfile
	}
	return StripeProfile
}

// === Assembly ===

// Fields are the seller's written answers. Explanation, AccessActivityLog and
// AdditionalInfo are free text and end up in the notes block.
type Fields struct {
	ProductDescription string `json:"product_description"`
	CustomerName       string `json:"customer_name"`
	PolicyDisclosure   string `json:"policy_disclosure"`
	ShippingCarrier    string `json:"shipping_carrier"`
	TrackingNumber     string `json:"tracking_number"`

	Explanation       string `json:"explanation"`
	AccessActivityLog string `json:"access_activity_log"`
	AdditionalInfo    string `json:"additional_info"`
}

// Upload is a file the seller attached to a slot.
type Upload struct {
	Slot processor.Slot
	Name string
	Data []byte
}

// Reasons a file is skipped.
const (
	ReasonUnknownSlot = "unknown_slot"
	ReasonEmpty       = "empty"
	ReasonType        = "type_not_allowed"
	ReasonFileSize    = "file_too_large"
	ReasonTotalSize   = "total_too_large"
)

// Skipped is a file left out of the submission.
type Skipped struct {
	Name   string         `json:"name"`
	Slot   processor.Slot `json:"slot"`
	Reason string         `json:"reason"`
}

// Assembler builds processor evidence.
type Assembler struct {
	carriers *Carriers
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAssembler creates an assembler. Nil carriers uses the embedded table.
func NewAssembler(carriers *Carriers, m *metrics.Metrics, log *slog.Logger) *Assembler {
	if log == nil {
		log = slog.Default()
	}
	if carriers == nil {
		carriers = DefaultCarriers(log)
	}
	return &Assembler{carriers: carriers, metrics: m, logger: log}
}

// Assemble builds the evidence for the purchase's processor.
func (a *Assembler) Assemble(p *model.Purchase, f Fields, uploads []Upload) (*processor.Evidence, []Skipped) {
	profile := ProfileFor(p.Processor)

	ev := &processor.Evidence{
		DisputeID:          p.ProcessorDisputeID,
		ChargeID:           p.ProcessorChargeID,
		IsSubscription:     p.IsSubscription,
		ProductDescription: firstNonEmpty(f.ProductDescription, p.ProductName),
		CustomerEmail:      p.BuyerEmail,
		CustomerName:       firstNonEmpty(f.CustomerName, p.BuyerName),
		CustomerIP:         p.IPAddress,
		PurchasedAt:        p.CreatedAt,
		PolicyDisclosure:   f.PolicyDisclosure,
	}

	tracking := firstNonEmpty(f.TrackingNumber, p.ShippingTrackingCode)
	if tracking != "" {
		carrier := a.carriers.Resolve(firstNonEmpty(f.ShippingCarrier, p.ShippingCarrier))
		ev.Shipping = &processor.Shipping{
			CarrierCode:    carrier.Code,
			CarrierName:    carrier.Name,
			TrackingNumber: strings.TrimSpace(tracking),
		}
	}

	var receipt string
	if p.ReceiptURL != "" {
		receipt = "Receipt: " + p.ReceiptURL
	}
	notes := []string{f.Explanation}
	if profile.FieldsInNotes {
		notes = append(notes, labelled("Product", ev.ProductDescription), labelled("Customer", ev.CustomerName))
		if policy, ok := SlotFor(PolicySlot(p)); ok {
			notes = append(notes, labelled(policy.Label, ev.PolicyDisclosure))
		}
	}
	notes = append(notes, f.AccessActivityLog, f.AdditionalInfo, receipt)
	ev.Notes = Notes(profile.MaxNotesRunes, notes...)

	var skipped []Skipped
	var total int64
	for _, up := range uploads {
		slot := up.Slot
		if slot == SlotPolicy {
			slot = PolicySlot(p)
		}
		file, reason := a.check(profile, slot, up, total)
		if reason != "" {
			s := Skipped{Name: up.Name, Slot: slot, Reason: reason}
			skipped = append(skipped, s)
			a.logger.Warn("evidence file skipped",
				"purchase_id", p.ID,
				"processor", profile.Processor,
				"file", up.Name,
				"slot", slot,
				"size", len(up.Data),
				"reason", reason,
			)
			a.metrics.EvidenceFileSkipped(profile.Processor, reason)
			continue
		}
		total += int64(len(file.Data))
		ev.Files = append(ev.Files, file)
	}
	return ev, skipped
}

// check applies the slot and profile limits to one upload.
func (a *Assembler) check(profile Profile, slot processor.Slot, up Upload, total int64) (processor.File, string) {
	spec, ok := SlotFor(slot)
	if !ok {
		return processor.File{}, ReasonUnknownSlot
	}
	size := int64(len(up.Data))
	if size == 0 {
		return processor.File{}, ReasonEmpty
	}

	detected := mimetype.Detect(up.Data)
	contentType, ok := matchType(detected, spec.Types)
	if !ok {
		return processor.File{}, ReasonType
	}
	if _, ok := matchType(detected, profile.Types); !ok {
		return processor.File{}, ReasonType
	}
	if size > profile.MaxFileBytes {
		return processor.File{}, ReasonFileSize
	}
	if total+size > profile.MaxTotalBytes {
		return processor.File{}, ReasonTotalSize
	}
	return processor.File{Slot: slot, Name: up.Name, ContentType: contentType, Data: up.Data}, ""
}

func matchType(detected *mimetype.MIME, allowed []string) (string, bool) {
	for _, t := range allowed {
		if detected.Is(t) {
			return t, true
		}
	}
	return "", false
}

// Notes joins the non-empty free-text fields, separated by blank lines, and
// truncates the result to limit runes.
func Notes(limit int, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return Truncate(strings.Join(kept, "\n\n"), limit)
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func labelled(label, value string) string {
	if value = strings.TrimSpace(value); value == "" {
		return ""
	}
	return label + ": " + value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
