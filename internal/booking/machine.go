// Package booking drives a booking from creation to completion. Every
// transition is a conditional write against the stored state; when the
// write misses, the booking is re-read to tell a retry of a transition
// that already happened apart from a genuine conflict.
package booking

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

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// PackagePayoutsProviderFee pays credit-funded jobs the service provider fee.
	PackagePayoutsProviderFee = "provider_fee"
	// PackagePayoutsIneligible leaves credit-funded jobs without a payout row.
	PackagePayoutsIneligible = "ineligible"
)

// CreditSource resolves which package credit, if any, funds a booking.
type CreditSource interface {
	PrepareDraw(ctx context.Context, clientID, serviceID, packageID int64, at time.Time) (*domain.CreditDraw, error)
	FindDraw(ctx context.Context, clientID, serviceID int64, at time.Time) (*domain.CreditDraw, error)
}

type Options struct {
	AcceptanceWindow  time.Duration
	MaxAdvanceDays    int
	Location          *time.Location
	AutoDetectPackage bool
	PackagePayouts    string
}

type Machine struct {
	store    domain.BookingStore
	refs     domain.ReferenceData
	credits  CreditSource
	calc     *payout.Calculator
	eventBus domain.EventPublisher
	opts     Options
	now      func() time.Time
	logger   *zerolog.Logger
}

func NewMachine(store domain.BookingStore, refs domain.ReferenceData, credits CreditSource, calc *payout.Calculator,
	eventBus domain.EventPublisher, opts Options, logger *zerolog.Logger) *Machine {
	if opts.AcceptanceWindow <= 0 {
		opts.AcceptanceWindow = models.DefaultAcceptanceWindowMinutes * time.Minute
	}
	if opts.MaxAdvanceDays <= 0 {
		opts.MaxAdvanceDays = models.DefaultMaxAdvanceDays
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.PackagePayouts == "" {
		opts.PackagePayouts = PackagePayoutsProviderFee
	}
	return &Machine{
		store:    store,
		refs:     refs,
		credits:  credits,
		calc:     calc,
		eventBus: eventBus,
		opts:     opts,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock overrides the wall clock, for tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

type CreateRequest struct {
	ClientID        int64     `json:"client_id"`
	ServiceID       int64     `json:"service_id"`
	ScheduledAt     time.Time `json:"scheduled_at"`
	DurationMinutes int       `json:"duration_minutes"`
	PackageID       *int64    `json:"package_id,omitempty"`
	IsEmergency     bool      `json:"is_emergency"`
}

func (r CreateRequest) validate() error {
	switch {
	case r.ClientID <= 0:
		return domain.Invalid("client_id", "is required")
	case r.ServiceID <= 0:
		return domain.Invalid("service_id", "is required")
	case r.ScheduledAt.IsZero():
		return domain.Invalid("scheduled_at", "is required")
	case r.DurationMinutes < 0:
		return domain.Invalid("duration_minutes", "must not be negative")
	case r.PackageID != nil && *r.PackageID <= 0:
		return domain.Invalid("package_id", "must be positive")
	}
	return nil
}

// Create validates the request and persists a pending booking. A
// credit-funded booking and its credit consumption are written together;
// when no credit is left nothing is stored and ErrEntitlementExhausted is
// returned.
func (m *Machine) Create(ctx context.Context, req CreateRequest) (*models.Booking, error) {
	if err := req.validate(); err != nil {
		metrics.IncTransition("create", "invalid")
		return nil, err
	}
	now := m.now()

	if err := m.validateDate(req.ScheduledAt, now); err != nil {
		metrics.IncTransition("create", "invalid")
		return nil, err
	}

	svc, err := m.refs.GetService(ctx, req.ServiceID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Invalid("service_id", "does not exist")
	}
	if err != nil {
		return nil, err
	}
	if !svc.IsActive {
		return nil, domain.Invalid("service_id", "is not offered any more")
	}

	draw, err := m.resolveDraw(ctx, req)
	if err != nil {
		metrics.IncTransition("create", "exhausted")
		return nil, err
	}

	booking := &models.Booking{
		ClientID:        req.ClientID,
		ServiceID:       svc.ID,
		FundingSource:   models.FundingPayPerJob,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		Status:          models.StatusPending,
		IsEmergency:     req.IsEmergency,
		PayoutEligible:  true,
		CreatedAt:       now,
	}
	if booking.DurationMinutes == 0 {
		booking.DurationMinutes = svc.DurationMinutes
	}
	m.calc.Snapshot(booking, svc)
	booking.TotalAmount = svc.Price

	if draw != nil {
		booking.FundingSource = models.FundingPackageCredit
		booking.PackageID = &draw.PackageID
		booking.TotalAmount = decimal.Zero
		booking.PayoutEligible = m.opts.PackagePayouts != PackagePayoutsIneligible
	}

	booking.AcceptanceDeadline = now.Add(m.opts.AcceptanceWindow)
	if booking.ScheduledAt.After(now) && booking.ScheduledAt.Before(booking.AcceptanceDeadline) {
		booking.AcceptanceDeadline = booking.ScheduledAt
	}

	credit, err := m.store.CreateBooking(ctx, booking, draw)
	if err != nil {
		if errors.Is(err, domain.ErrNoEntitlement) {
			metrics.IncTransition("create", "exhausted")
			m.logger.Info().Int64("client_id", req.ClientID).Int64("service_id", req.ServiceID).
				Msg("Booking rejected, no package credits left")
			return nil, fmt.Errorf("%w: %v", domain.ErrEntitlementExhausted, err)
		}
		return nil, err
	}

	ev := m.logger.Info().Int64("booking_id", booking.ID).Int64("client_id", booking.ClientID).
		Str("funding", booking.FundingSource)
	if credit != nil {
		ev = ev.Int("credits_remaining", credit.Remaining)
	}
	ev.Msg("Booking created")

	metrics.IncTransition("create", "ok")
	m.publishEvent(events.EventBookingCreated, booking, "", models.Actor{Role: models.RoleClient, ID: req.ClientID}, "")
	return booking, nil
}

func (m *Machine) validateDate(scheduled, now time.Time) error {
	day := func(t time.Time) time.Time {
		t = t.In(m.opts.Location)
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, m.opts.Location)
	}
	if day(scheduled).Before(day(now)) {
		return domain.Invalid("scheduled_at", "must be today or later")
	}
	if scheduled.After(now.AddDate(0, 0, m.opts.MaxAdvanceDays)) {
		return domain.Invalid("scheduled_at", fmt.Sprintf("must be within %d days", m.opts.MaxAdvanceDays))
	}
	return nil
}

func (m *Machine) resolveDraw(ctx context.Context, req CreateRequest) (*domain.CreditDraw, error) {
	if m.credits == nil {
		if req.PackageID != nil {
			return nil, domain.Invalid("package_id", "packages are not enabled")
		}
		return nil, nil
	}
	if req.PackageID != nil {
		draw, err := m.credits.PrepareDraw(ctx, req.ClientID, req.ServiceID, *req.PackageID, req.ScheduledAt)
		if errors.Is(err, domain.ErrNoEntitlement) {
			return nil, fmt.Errorf("%w: %v", domain.ErrEntitlementExhausted, err)
		}
		return draw, err
	}
	if !m.opts.AutoDetectPackage {
		return nil, nil
	}
	return m.credits.FindDraw(ctx, req.ClientID, req.ServiceID, req.ScheduledAt)
}

func (m *Machine) Get(ctx context.Context, id int64) (*models.Booking, error) {
	return m.store.GetBooking(ctx, id)
}

// ListAvailable returns pending jobs that can still be claimed.
func (m *Machine) ListAvailable(ctx context.Context, limit int) ([]*models.Booking, error) {
	return m.store.ListAvailableBookings(ctx, m.now(), limit)
}

// Assign lets a provider claim a pending booking. Exactly one concurrent
// claim wins; the others get ErrConcurrentAssignmentLost and should re-poll
// the available jobs.
func (m *Machine) Assign(ctx context.Context, id, providerID int64) (*models.Booking, error) {
	if providerID <= 0 {
		return nil, domain.Invalid("provider_id", "is required")
	}
	now := m.now()

	err := m.store.AssignProvider(ctx, id, providerID, now)
	if err != nil && !errors.Is(err, domain.ErrConcurrentModification) {
		return nil, err
	}

	booking, gerr := m.store.GetBooking(ctx, id)
	if gerr != nil {
		return nil, gerr
	}

	if err == nil {
		metrics.IncTransition("assign", "ok")
		m.logger.Info().Int64("booking_id", id).Int64("provider_id", providerID).Msg("Booking assigned")
		m.publishEvent(events.EventBookingAssigned, booking, models.StatusPending, models.Actor{Role: models.RoleProvider, ID: providerID}, "")
		return booking, nil
	}

	switch {
	case booking.AssignedTo(providerID) && booking.Status != models.StatusCancelled:
		metrics.IncTransition("assign", "retry")
		return booking, nil
	case booking.Status == models.StatusPending && !now.Before(booking.AcceptanceDeadline):
		metrics.IncTransition("assign", "expired")
		m.logger.Warn().Int64("booking_id", id).Int64("provider_id", providerID).
			Time("deadline", booking.AcceptanceDeadline).Msg("Assignment after acceptance deadline")
		return nil, domain.ErrAcceptanceExpired
	case booking.ProviderID != nil && booking.Status != models.StatusCancelled:
		metrics.IncTransition("assign", "lost")
		m.logger.Warn().Int64("booking_id", id).Int64("provider_id", providerID).
			Int64("winner_id", *booking.ProviderID).Msg("Assignment race lost")
		return nil, domain.ErrConcurrentAssignmentLost
	default:
		metrics.IncTransition("assign", "rejected")
		return nil, &domain.TransitionError{Entity: "booking", ID: id, From: booking.Status, To: models.StatusAccepted}
	}
}

// Start records the provider's check-in.
func (m *Machine) Start(ctx context.Context, id, providerID int64) (*models.Booking, error) {
	if providerID <= 0 {
		return nil, domain.Invalid("provider_id", "is required")
	}

	err := m.store.StartBooking(ctx, id, providerID, m.now())
	if err != nil && !errors.Is(err, domain.ErrConcurrentModification) {
		return nil, err
	}

	booking, gerr := m.store.GetBooking(ctx, id)
	if gerr != nil {
		return nil, gerr
	}

	if err == nil {
		metrics.IncTransition("start", "ok")
		m.logger.Info().Int64("booking_id", id).Int64("provider_id", providerID).Msg("Booking started")
		m.publishEvent(events.EventBookingStarted, booking, models.StatusAccepted, models.Actor{Role: models.RoleProvider, ID: providerID}, "")
		return booking, nil
	}

	switch {
	case booking.ProviderID != nil && !booking.AssignedTo(providerID):
		metrics.IncTransition("start", "forbidden")
		return nil, domain.ErrNotAssignedProvider
	case booking.StartedAt != nil:
		metrics.IncTransition("start", "retry")
		return booking, nil
	default:
		metrics.IncTransition("start", "rejected")
		return nil, &domain.TransitionError{Entity: "booking", ID: id, From: booking.Status, To: models.StatusInProgress}
	}
}

// Complete closes the job and records the provider payout in the same
// write. Completing an already completed booking returns the stored
// booking and payout.
func (m *Machine) Complete(ctx context.Context, id, providerID int64, completion models.Completion) (*models.Booking, *models.Payout, error) {
	if providerID <= 0 {
		return nil, nil, domain.Invalid("provider_id", "is required")
	}
	completion.Notes = strings.TrimSpace(completion.Notes)
	if completion.Notes == "" {
		return nil, nil, domain.Invalid("notes", "are required to complete a visit")
	}
	if completion.QualityScore < models.MinQualityScore || completion.QualityScore > models.MaxQualityScore {
		return nil, nil, domain.Invalid("quality_score", fmt.Sprintf("must be between %d and %d", models.MinQualityScore, models.MaxQualityScore))
	}

	booking, err := m.store.GetBooking(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if booking.ProviderID != nil && !booking.AssignedTo(providerID) {
		metrics.IncTransition("complete", "forbidden")
		return nil, nil, domain.ErrNotAssignedProvider
	}
	if booking.Status == models.StatusCompleted {
		return m.completed(ctx, booking)
	}

	var p *models.Payout
	if booking.PayoutEligible {
		quote := m.calc.Calculate(booking)
		p = &models.Payout{
			Kind:         models.PayoutKindJob,
			Amount:       quote.Amount,
			BaseAmount:   quote.Base,
			WeekendBonus: quote.Bonus,
			Status:       models.PayoutPending,
			CreatedBy:    models.RoleSystem,
		}
	}

	err = m.store.CompleteBooking(ctx, id, providerID, completion, p, m.now())
	if err != nil && !errors.Is(err, domain.ErrConcurrentModification) {
		return nil, nil, err
	}

	booking, gerr := m.store.GetBooking(ctx, id)
	if gerr != nil {
		return nil, nil, gerr
	}

	if err != nil {
		if booking.Status == models.StatusCompleted && booking.AssignedTo(providerID) {
			return m.completed(ctx, booking)
		}
		metrics.IncTransition("complete", "rejected")
		return nil, nil, &domain.TransitionError{Entity: "booking", ID: id, From: booking.Status, To: models.StatusCompleted}
	}

	metrics.IncTransition("complete", "ok")
	actor := models.Actor{Role: models.RoleProvider, ID: providerID}
	m.publishEvent(events.EventBookingCompleted, booking, models.StatusInProgress, actor, "")

	logEv := logging.Booking(m.logger, id).Info().Int64("provider_id", providerID)
	if p == nil {
		logEv.Msg("Booking completed without payout")
		return booking, nil, nil
	}
	metrics.IncPayout(p.Kind)
	logEv.Str("amount", p.Amount.String()).Msg("Booking completed")
	m.publishPayout(p)
	return booking, p, nil
}

func (m *Machine) completed(ctx context.Context, booking *models.Booking) (*models.Booking, *models.Payout, error) {
	metrics.IncTransition("complete", "retry")
	if !booking.PayoutEligible {
		return booking, nil, nil
	}
	p, err := m.store.GetPayoutByBooking(ctx, booking.ID)
	if errors.Is(err, domain.ErrNotFound) {
		return booking, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return booking, p, nil
}

// Cancel moves a pending or accepted booking to cancelled. A credit-funded
// booking keeps its consumed credit until an administrator restores it.
func (m *Machine) Cancel(ctx context.Context, id int64, actor models.Actor, reason string) (*models.Booking, error) {
	booking, err := m.store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeCancel(booking, actor); err != nil {
		metrics.IncTransition("cancel", "forbidden")
		return nil, err
	}
	if booking.Status == models.StatusCancelled {
		metrics.IncTransition("cancel", "retry")
		return booking, nil
	}

	previous := booking.Status
	err = m.store.CancelBooking(ctx, id, actor, strings.TrimSpace(reason), m.now())
	if err != nil && !errors.Is(err, domain.ErrConcurrentModification) {
		return nil, err
	}

	booking, gerr := m.store.GetBooking(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if err != nil {
		if booking.Status == models.StatusCancelled {
			metrics.IncTransition("cancel", "retry")
			return booking, nil
		}
		metrics.IncTransition("cancel", "rejected")
		return nil, &domain.TransitionError{Entity: "booking", ID: id, From: booking.Status, To: models.StatusCancelled}
	}

	metrics.IncTransition("cancel", "ok")
	ev := logging.Booking(m.logger, id).Info().Str("from", previous).Str("actor", actor.String())
	if booking.CreditFunded() {
		ev = ev.Bool("credit_held", true)
	}
	ev.Msg("Booking cancelled")
	m.publishEvent(events.EventBookingCancelled, booking, previous, actor, booking.CancelReason)
	return booking, nil
}

func authorizeCancel(b *models.Booking, actor models.Actor) error {
	switch actor.Role {
	case models.RoleAdmin, models.RoleSystem:
		return nil
	case models.RoleClient:
		if actor.ID == b.ClientID {
			return nil
		}
	case models.RoleProvider:
		if b.AssignedTo(actor.ID) {
			return nil
		}
	case "":
		return domain.Invalid("actor", "is required")
	default:
		return domain.Invalid("actor.role", "is unknown")
	}
	return domain.ErrNotBookingParty
}

// Rate stores the client's rating of a completed booking. A booking is
// rated once.
func (m *Machine) Rate(ctx context.Context, id, clientID int64, rating int, review string) (*models.Booking, error) {
	if rating < models.MinQualityScore || rating > models.MaxQualityScore {
		return nil, domain.Invalid("rating", fmt.Sprintf("must be between %d and %d", models.MinQualityScore, models.MaxQualityScore))
	}

	err := m.store.RateBooking(ctx, id, clientID, rating, strings.TrimSpace(review), m.now())
	if err != nil && !errors.Is(err, domain.ErrConcurrentModification) {
		return nil, err
	}

	booking, gerr := m.store.GetBooking(ctx, id)
	if gerr != nil {
		return nil, gerr
	}
	if err == nil {
		m.logger.Info().Int64("booking_id", id).Int("rating", rating).Msg("Booking rated")
		return booking, nil
	}

	switch {
	case booking.ClientID != clientID:
		return nil, domain.ErrNotBookingParty
	case booking.Status != models.StatusCompleted:
		return nil, &domain.TransitionError{Entity: "booking", ID: id, From: booking.Status, To: "rated"}
	default:
		return nil, domain.ErrAlreadyRated
	}
}

func (m *Machine) publishEvent(eventType string, b *models.Booking, previous string, actor models.Actor, reason string) {
	if m.eventBus == nil {
		return
	}

	payload := events.BookingEventPayload{
		BookingID:     b.ID,
		ClientID:      b.ClientID,
		ProviderID:    b.ProviderID,
		ServiceID:     b.ServiceID,
		Status:        b.Status,
		PreviousState: previous,
		FundingSource: b.FundingSource,
		ScheduledAt:   b.ScheduledAt,
		ChangedBy:     actor.String(),
		Reason:        reason,
	}

	if err := m.eventBus.PublishJSON(eventType, payload); err != nil {
		m.logger.Error().Err(err).Str("event_type", eventType).Int64("booking_id", b.ID).Msg("publish event error")
	}
}

func (m *Machine) publishPayout(p *models.Payout) {
	if m.eventBus == nil {
		return
	}
	payload := events.PayoutEventPayload{
		PayoutID:   p.ID,
		BookingID:  p.BookingID,
		ProviderID: p.ProviderID,
		Amount:     p.Amount,
		Status:     p.Status,
	}
	if err := m.eventBus.PublishJSON(events.EventPayoutReady, payload); err != nil {
		m.logger.Error().Err(err).Int64("payout_id", p.ID).Msg("publish event error")
	}
}
