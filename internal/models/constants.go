package models

const (
	StatusPending    = "pending"
	StatusAccepted   = "accepted"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
)

const (
	FundingPayPerJob     = "pay_per_job"
	FundingPackageCredit = "package_credit"
)

const (
	PayoutPending    = "pending"
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutVoided     = "voided"
)

const (
	PayoutKindJob              = "job"
	PayoutKindPerformanceBonus = "performance_bonus"
	PayoutKindManual           = "manual"
)

const (
	BatchDraft      = "draft"
	BatchPending    = "pending"
	BatchApproved   = "approved"
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchRejected   = "rejected"
)

const (
	BatchTypeAutomated = "automated"
	BatchTypeManual    = "manual"
)

const (
	FrequencyWeekly   = "weekly"
	FrequencyBiWeekly = "bi_weekly"
	FrequencyMonthly  = "monthly"
)

const (
	CycleWeekly  = "weekly"
	CycleMonthly = "monthly"
)

const (
	PackageActive    = "active"
	PackageExpired   = "expired"
	PackageCancelled = "cancelled"
)

const (
	RoleClient   = "client"
	RoleProvider = "provider"
	RoleAdmin    = "admin"
	RoleSystem   = "system"
)

const (
	// DefaultAcceptanceWindowMinutes is how long a pending booking stays claimable.
	DefaultAcceptanceWindowMinutes = 120

	// DefaultMaxAdvanceDays limits how far ahead a booking may be scheduled.
	DefaultMaxAdvanceDays = 180

	// DefaultRatingWindowDays is the look-back window for the performance bonus.
	DefaultRatingWindowDays = 30

	MinQualityScore = 1
	MaxQualityScore = 5

	// DefaultAvailablePageSize caps the open-jobs listing.
	DefaultAvailablePageSize = 50
)

var terminalStatuses = map[string]bool{
	StatusCompleted: true,
	StatusCancelled: true,
}

func IsTerminalStatus(status string) bool {
	return terminalStatuses[status]
}

func IsKnownStatus(status string) bool {
	switch status {
	case StatusPending, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}
