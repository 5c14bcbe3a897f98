// Package settlement turns pending payouts into batches, either on the
// active payout rule's schedule or by explicit administrator request.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"servicehub/internal/domain"
	"servicehub/internal/events"
	"servicehub/internal/logging"
	"servicehub/internal/metrics"
	"servicehub/internal/models"
	"servicehub/internal/payout"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// AutoApprover is recorded as the approver of batches approved by rule.
const AutoApprover = "auto"

type Engine struct {
	store    domain.PayoutStore
	refs     domain.ReferenceData
	eventBus domain.EventPublisher
	location *time.Location
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewEngine(store domain.PayoutStore, refs domain.ReferenceData, eventBus domain.EventPublisher, location *time.Location, logger *zerolog.Logger) *Engine {
	if location == nil {
		location = time.UTC
	}
	return &Engine{
		store:    store,
		refs:     refs,
		eventBus: eventBus,
		location: location,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock overrides the wall clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// BatchSummary describes one batch produced by a run.
type BatchSummary struct {
	BatchID     int64           `json:"batch_id"`
	Reference   string          `json:"reference"`
	ProviderID  int64           `json:"provider_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	PayoutCount int             `json:"payout_count"`
	Bonus       decimal.Decimal `json:"performance_bonus"`
	Status      string          `json:"status"`
}

type SkippedProvider struct {
	ProviderID int64           `json:"provider_id"`
	Pending    decimal.Decimal `json:"pending"`
	Reason     string          `json:"reason"`
}

type FailedProvider struct {
	ProviderID int64  `json:"provider_id"`
	Error      string `json:"error"`
}

type RunOptions struct {
	// Force runs even when the current period was already settled.
	Force bool `json:"force"`
}

type RunSummary struct {
	RuleID      int64             `json:"rule_id"`
	PeriodStart time.Time         `json:"period_start"`
	Ran         bool              `json:"ran"`
	Forced      bool              `json:"forced"`
	Batches     []BatchSummary    `json:"batches"`
	Skipped     []SkippedProvider `json:"skipped"`
	Failed      []FailedProvider  `json:"failed,omitempty"`
	Total       decimal.Decimal   `json:"total"`
}

const (
	skipBelowMinimum = "below_minimum"
	skipNothingLeft  = "nothing_attached"
)

// RunAutomated applies the active payout rule to every provider with
// pending payouts. Unless forced, only the first run of a period does any
// work; concurrent runs on other instances find the period already
// claimed.
func (e *Engine) RunAutomated(ctx context.Context, opts RunOptions) (*RunSummary, error) {
	rule, err := e.refs.GetActiveRule(ctx)
	if err != nil {
		return nil, err
	}

	now := e.now()
	periodStart := rule.PeriodStart(now.In(e.location))
	summary := &RunSummary{RuleID: rule.ID, PeriodStart: periodStart, Forced: opts.Force, Total: decimal.Zero}

	claimed, err := e.store.ClaimRuleRun(ctx, rule.ID, periodStart, now)
	if err != nil {
		return nil, fmt.Errorf("failed to claim payout run: %w", err)
	}
	if !claimed && !opts.Force {
		e.logger.Info().Int64("rule_id", rule.ID).Time("period_start", periodStart).Msg("Payout run already done for this period")
		return summary, nil
	}
	summary.Ran = true

	balances, err := e.store.ListProviderBalances(ctx, nil)
	if err != nil {
		return nil, err
	}

	for _, bal := range balances {
		if bal.Total.LessThan(rule.MinimumPayoutAmount) {
			summary.Skipped = append(summary.Skipped, SkippedProvider{ProviderID: bal.ProviderID, Pending: bal.Total, Reason: skipBelowMinimum})
			e.logger.Debug().Int64("provider_id", bal.ProviderID).Str("pending", bal.Total.String()).
				Msg("Provider below payout minimum, rolling forward")
			continue
		}

		batch, bonus, err := e.runProvider(ctx, rule, bal.ProviderID, now)
		if err != nil {
			summary.Failed = append(summary.Failed, FailedProvider{ProviderID: bal.ProviderID, Error: err.Error()})
			e.logger.Error().Err(err).Int64("provider_id", bal.ProviderID).Msg("Automated payout failed")
			continue
		}
		if batch == nil {
			summary.Skipped = append(summary.Skipped, SkippedProvider{ProviderID: bal.ProviderID, Pending: bal.Total, Reason: skipNothingLeft})
			continue
		}

		summary.Batches = append(summary.Batches, summarize(batch, bonus))
		summary.Total = summary.Total.Add(batch.TotalAmount)
	}

	e.logger.Info().Int64("rule_id", rule.ID).Int("batches", len(summary.Batches)).Int("skipped", len(summary.Skipped)).
		Int("failed", len(summary.Failed)).Str("total", summary.Total.String()).Bool("forced", opts.Force).
		Msg("Automated payout run finished")
	return summary, nil
}

func (e *Engine) runProvider(ctx context.Context, rule *models.PayoutRule, providerID int64, now time.Time) (*models.PayoutBatch, decimal.Decimal, error) {
	bonusPct, err := e.bonusPct(ctx, rule, providerID, now)
	if err != nil {
		return nil, decimal.Zero, err
	}

	bonus := decimal.Zero
	plan := func(attached decimal.Decimal, count int) (domain.BatchPlan, bool) {
		// payouts may have been claimed by a concurrent run since the balance was read
		if count == 0 || attached.LessThan(rule.MinimumPayoutAmount) {
			return domain.BatchPlan{}, false
		}
		bonus = payout.PerformanceBonus(attached, bonusPct)
		status := models.BatchPending
		if attached.Add(bonus).LessThanOrEqual(rule.AutoApproveUnderAmount) {
			status = models.BatchApproved
		}
		return domain.BatchPlan{Bonus: bonus, Status: status}, true
	}

	ruleID := rule.ID
	batch, err := e.store.CreateBatch(ctx, &models.PayoutBatch{
		Reference:  uuid.NewString(),
		BatchType:  models.BatchTypeAutomated,
		RuleID:     &ruleID,
		ProviderID: providerID,
		ApprovedBy: AutoApprover,
	}, plan, now)
	if err != nil || batch == nil {
		return nil, decimal.Zero, err
	}

	metrics.IncBatch(batch.BatchType, batch.Status)
	if bonus.IsPositive() {
		metrics.IncPayout(models.PayoutKindPerformanceBonus)
	}
	e.logger.Info().Int64("batch_id", batch.ID).Int64("provider_id", providerID).Str("total", batch.TotalAmount.String()).
		Str("status", batch.Status).Msg("Payout batch created")

	e.publishBatch(events.EventPayoutReady, batch)
	if batch.Status == models.BatchApproved {
		e.publishBatch(events.EventBatchApproved, batch)
	}
	return batch, bonus, nil
}

// bonusPct returns the performance bonus percentage the provider earned,
// zero when the rule has none or the average rating is below threshold.
func (e *Engine) bonusPct(ctx context.Context, rule *models.PayoutRule, providerID int64, now time.Time) (decimal.Decimal, error) {
	if !rule.HasPerformanceBonus() {
		return decimal.Zero, nil
	}
	window := rule.RatingWindowDays
	if window <= 0 {
		window = models.DefaultRatingWindowDays
	}
	avg, n, err := e.store.AverageRating(ctx, providerID, now.AddDate(0, 0, -window))
	if err != nil {
		return decimal.Zero, err
	}
	if n == 0 || avg.LessThan(*rule.PerformanceBonusThreshold) {
		return decimal.Zero, nil
	}
	return rule.PerformanceBonusPct, nil
}

type ManualPayoutRequest struct {
	ProviderIDs   []int64 `json:"provider_ids"`
	ConfirmedBy   string  `json:"confirmed_by"`
	PaymentMethod string  `json:"payment_method"`
}

type ManualPayoutResult struct {
	PerProvider []BatchSummary  `json:"per_provider"`
	Total       decimal.Decimal `json:"total"`
}

// PayProviders pays out everything the given providers are owed right now,
// regardless of the rule thresholds. It requires the name of the person who
// confirmed the payment.
func (e *Engine) PayProviders(ctx context.Context, req ManualPayoutRequest) (*ManualPayoutResult, error) {
	confirmedBy := strings.TrimSpace(req.ConfirmedBy)
	if confirmedBy == "" {
		return nil, domain.Invalid("confirmed_by", "manual payouts need a human confirmation")
	}
	if len(req.ProviderIDs) == 0 {
		return nil, domain.Invalid("provider_ids", "is required")
	}

	result := &ManualPayoutResult{Total: decimal.Zero}
	seen := make(map[int64]bool, len(req.ProviderIDs))
	now := e.now()

	for _, providerID := range req.ProviderIDs {
		if providerID <= 0 {
			return result, domain.Invalid("provider_ids", fmt.Sprintf("contains invalid id %d", providerID))
		}
		if seen[providerID] {
			continue
		}
		seen[providerID] = true

		batch, err := e.store.CreateBatch(ctx, &models.PayoutBatch{
			Reference:  uuid.NewString(),
			BatchType:  models.BatchTypeManual,
			ProviderID: providerID,
			ApprovedBy: confirmedBy,
			Note:       "manual payout",
		}, func(_ decimal.Decimal, count int) (domain.BatchPlan, bool) {
			return domain.BatchPlan{Status: models.BatchCompleted, PaymentMethod: req.PaymentMethod}, count > 0
		}, now)
		if err != nil {
			return result, fmt.Errorf("failed to pay provider %d: %w", providerID, err)
		}
		if batch == nil {
			continue
		}

		metrics.IncBatch(batch.BatchType, batch.Status)
		e.logger.Info().Int64("batch_id", batch.ID).Int64("provider_id", providerID).Str("total", batch.TotalAmount.String()).
			Str("confirmed_by", confirmedBy).Msg("Manual payout completed")
		result.PerProvider = append(result.PerProvider, summarize(batch, decimal.Zero))
		result.Total = result.Total.Add(batch.TotalAmount)
	}
	return result, nil
}

// ApproveBatch approves a pending batch. Approving again returns the
// batch unchanged.
func (e *Engine) ApproveBatch(ctx context.Context, id int64, approver string) (*models.PayoutBatch, error) {
	approver = strings.TrimSpace(approver)
	if approver == "" {
		return nil, domain.Invalid("approver", "is required")
	}
	before, err := e.store.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}

	batch, err := e.store.ApproveBatch(ctx, id, approver, e.now())
	if err != nil {
		if errors.Is(err, domain.ErrBatchIneligible) {
			logging.Batch(e.logger, id).Warn().Msg("Batch holds payouts of bookings that are not completed")
		}
		return nil, err
	}
	if before.Status == models.BatchPending && batch.Status == models.BatchApproved {
		metrics.IncBatch(batch.BatchType, batch.Status)
		logging.Batch(e.logger, id).Info().Str("approver", approver).Msg("Batch approved")
		e.publishBatch(events.EventBatchApproved, batch)
	}
	return batch, nil
}

func (e *Engine) ProcessBatch(ctx context.Context, id int64) (*models.PayoutBatch, error) {
	batch, err := e.store.ProcessBatch(ctx, id, e.now())
	if err != nil {
		return nil, err
	}
	logging.Batch(e.logger, id).Info().Str("status", batch.Status).Msg("Batch processing")
	return batch, nil
}

// CompleteBatch records that the payment for the batch was made.
func (e *Engine) CompleteBatch(ctx context.Context, id int64, paymentRef string) (*models.PayoutBatch, error) {
	batch, err := e.store.CompleteBatch(ctx, id, strings.TrimSpace(paymentRef), e.now())
	if err != nil {
		return nil, err
	}
	logging.Batch(e.logger, id).Info().Str("payment_ref", batch.PaymentRef).Msg("Batch completed")
	return batch, nil
}

// RejectBatch sends the batch's job payouts back to the pool for the next
// run.
func (e *Engine) RejectBatch(ctx context.Context, id int64, actor, reason string) (*models.PayoutBatch, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return nil, domain.Invalid("actor", "is required")
	}
	batch, err := e.store.RejectBatch(ctx, id, actor, strings.TrimSpace(reason), e.now())
	if err != nil {
		return nil, err
	}
	metrics.IncBatch(batch.BatchType, batch.Status)
	logging.Batch(e.logger, id).Warn().Str("actor", actor).Str("reason", reason).Msg("Batch rejected")
	return batch, nil
}

type ManualOverrideRequest struct {
	BookingID     int64           `json:"booking_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	Note          string          `json:"note"`
	Actor         string          `json:"actor"`
}

// MarkBookingPaid records a payment made outside the batch flow. It always
// leaves a payout row behind so reconciliation sees the money.
func (e *Engine) MarkBookingPaid(ctx context.Context, req ManualOverrideRequest) (*models.Payout, error) {
	switch {
	case req.BookingID <= 0:
		return nil, domain.Invalid("booking_id", "is required")
	case strings.TrimSpace(req.Actor) == "":
		return nil, domain.Invalid("actor", "is required")
	case req.Amount.IsNegative():
		return nil, domain.Invalid("amount", "must not be negative")
	}

	p, err := e.store.OverridePayout(ctx, req.BookingID, &models.Payout{
		Amount:        req.Amount.Round(2),
		PaymentMethod: req.PaymentMethod,
		Note:          req.Note,
		CreatedBy:     strings.TrimSpace(req.Actor),
	}, e.now())
	if err != nil {
		return nil, err
	}

	metrics.IncPayout(models.PayoutKindManual)
	e.logger.Warn().Int64("booking_id", req.BookingID).Int64("payout_id", p.ID).Str("amount", p.Amount.String()).
		Str("actor", req.Actor).Msg("Booking marked paid manually")
	return p, nil
}

func summarize(b *models.PayoutBatch, bonus decimal.Decimal) BatchSummary {
	return BatchSummary{
		BatchID:     b.ID,
		Reference:   b.Reference,
		ProviderID:  b.ProviderID,
		TotalAmount: b.TotalAmount,
		PayoutCount: b.PayoutCount,
		Bonus:       bonus,
		Status:      b.Status,
	}
}

func (e *Engine) publishBatch(eventType string, b *models.PayoutBatch) {
	if e.eventBus == nil {
		return
	}
	var payload interface{} = events.BatchEventPayload{
		BatchID:     b.ID,
		Reference:   b.Reference,
		ProviderID:  b.ProviderID,
		TotalAmount: b.TotalAmount,
		Status:      b.Status,
		ApprovedBy:  b.ApprovedBy,
	}
	if eventType == events.EventPayoutReady {
		payload = events.PayoutEventPayload{
			BatchID:    b.ID,
			ProviderID: b.ProviderID,
			Amount:     b.TotalAmount,
			Status:     b.Status,
		}
	}
	if err := e.eventBus.PublishJSON(eventType, payload); err != nil {
		e.logger.Error().Err(err).Str("event_type", eventType).Int64("batch_id", b.ID).Msg("publish event error")
	}
}
