// Package dispute submits dispute evidence, captures and refunds for
// completed purchases through the purchase's payment processor.
package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"checkout-service/internal/events"
	"checkout-service/internal/evidence"
	"checkout-service/internal/metrics"
	"checkout-service/internal/model"
	"checkout-service/internal/processor"
	"checkout-service/internal/store"
)

// Config holds the service's collaborators.
type Config struct {
	Purchases store.Purchases
	Registry  *processor.Registry
	Assembler *evidence.Assembler
	Events    events.Publisher
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

// Service handles post-purchase processor calls.
type Service struct {
	purchases store.Purchases
	registry  *processor.Registry
	assembler *evidence.Assembler
	events    events.Publisher
	logger    *slog.Logger
}

// NewService creates a dispute service.
func NewService(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	assembler := cfg.Assembler
	if assembler == nil {
		assembler = evidence.NewAssembler(nil, cfg.Metrics, log)
	}
	pub := cfg.Events
	if pub == nil {
		pub = events.Noop{}
	}
	return &Service{
		purchases: cfg.Purchases,
		registry:  cfg.Registry,
		assembler: assembler,
		events:    pub,
		logger:    log,
	}
}

// Result is the outcome of an evidence submission.
type Result struct {
	Response *processor.Response `json:"response"`
	Files    []string            `json:"files"`
	Skipped  []evidence.Skipped  `json:"skipped,omitempty"`
}

// SubmitEvidence assembles evidence for the purchase's open dispute and sends
// it to the processor. A processor that answers with an error status still
// yields a Result; only an upload the processor rejects returns an error.
func (s *Service) SubmitEvidence(ctx context.Context, purchaseID string, fields evidence.Fields, uploads []evidence.Upload) (*Result, error) {
	p, proc, err := s.lookup(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p.ProcessorDisputeID == "" {
		return nil, model.NewValidationError("purchase", "no open dispute")
	}

	ev, skipped := s.assembler.Assemble(p, fields, uploads)
	resp, err := proc.SubmitEvidence(ctx, ev)
	if err != nil {
		var invalid *processor.InvalidRequestError
		if errors.As(err, &invalid) {
			s.logger.Warn("evidence upload rejected",
				"purchase_id", p.ID,
				"processor", invalid.Processor,
				"status", invalid.StatusCode,
			)
		}
		return nil, err
	}

	result := &Result{Response: resp, Skipped: skipped}
	for _, f := range ev.Files {
		result.Files = append(result.Files, f.Name)
	}

	s.logger.Info("dispute evidence submitted",
		"purchase_id", p.ID,
		"processor", p.Processor,
		"dispute_id", p.ProcessorDisputeID,
		"status", resp.StatusCode,
		"files", len(result.Files),
		"skipped", len(skipped),
	)

	payload := events.EvidenceSubmitted{
		PurchaseID: p.ID,
		Processor:  p.Processor,
		DisputeID:  p.ProcessorDisputeID,
		StatusCode: resp.StatusCode,
		Files:      result.Files,
	}
	for _, sk := range skipped {
		payload.SkippedFiles = append(payload.SkippedFiles, sk.Name)
	}
	if err := s.events.Publish(ctx, events.TopicEvidenceSubmitted, p.ID, payload); err != nil {
		s.logger.Warn("event publish failed", "topic", events.TopicEvidenceSubmitted, "error", err)
	}
	return result, nil
}

// Refund refunds amountCents of the purchase, or all of it when amountCents
// is zero.
func (s *Service) Refund(ctx context.Context, purchaseID string, amountCents int64, reason string) (*processor.Response, error) {
	if amountCents < 0 {
		return nil, model.NewValidationError("amount_cents", "must not be negative")
	}
	p, proc, err := s.lookup(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p.PriceCents > 0 && amountCents > p.PriceCents {
		return nil, model.NewValidationError("amount_cents", fmt.Sprintf("exceeds purchase price %d", p.PriceCents))
	}

	resp, err := proc.Refund(ctx, processor.RefundRequest{
		ChargeID:     p.ProcessorChargeID,
		AmountCents:  amountCents,
		CurrencyCode: strings.ToUpper(p.CurrencyCode),
		Reason:       reason,
	})
	if err != nil {
		return nil, fmt.Errorf("refunding purchase %s: %w", p.ID, err)
	}
	if !resp.OK() {
		s.logger.Warn("refund not accepted",
			"purchase_id", p.ID,
			"processor", p.Processor,
			"status", resp.StatusCode,
		)
	}
	return resp, nil
}

// Capture captures the purchase's authorized processor order.
func (s *Service) Capture(ctx context.Context, purchaseID string) (*processor.Response, error) {
	p, proc, err := s.lookup(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if p.ProcessorChargeID == "" {
		return nil, model.NewValidationError("purchase", "no processor order")
	}

	resp, err := proc.CaptureOrder(ctx, p.ProcessorChargeID)
	if err != nil {
		return nil, fmt.Errorf("capturing purchase %s: %w", p.ID, err)
	}
	if !resp.OK() {
		s.logger.Warn("capture not accepted",
			"purchase_id", p.ID,
			"processor", p.Processor,
			"status", resp.StatusCode,
		)
	}
	return resp, nil
}

func (s *Service) lookup(ctx context.Context, purchaseID string) (*model.Purchase, processor.Processor, error) {
	if strings.TrimSpace(purchaseID) == "" {
		return nil, nil, model.NewValidationError("purchase_id", "required")
	}
	p, err := s.purchases.Purchase(ctx, purchaseID)
	if err != nil {
		return nil, nil, err
	}
	proc, err := s.registry.Get(p.Processor)
	if err != nil {
		return nil, nil, err
	}
	return p, proc, nil
}
