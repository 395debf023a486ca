package settings

// DB config keys and defaults for the metering core.
const (
	// DefaultMonthlyBudgetKey overrides the monthly budget applied to
	// lazily created budget rows (base-currency units, e.g. 50.0).
	DefaultMonthlyBudgetKey = "DEFAULT_MONTHLY_BUDGET"
	// DefaultBlockAtLimitKey overrides whether new budget rows block at the limit.
	DefaultBlockAtLimitKey = "DEFAULT_BLOCK_AT_LIMIT"
	// DefaultAlertThresholdPctKey overrides the alert threshold percent for new budget rows.
	DefaultAlertThresholdPctKey = "DEFAULT_ALERT_THRESHOLD_PCT"
	// FallbackExchangeRateKey overrides the exchange rate used when neither
	// the call nor the project configures one.
	FallbackExchangeRateKey = "FALLBACK_EXCHANGE_RATE"
	// DefaultMarkupPctKey overrides the markup applied when a project has
	// no pricing tiers and no fixed markup.
	DefaultMarkupPctKey = "DEFAULT_MARKUP_PCT"
	// EventsRetentionDaysKey controls how long ledger rows are kept; zero disables pruning.
	EventsRetentionDaysKey = "EVENTS_RETENTION_DAYS"
	// SummaryCacheTTLSecondsKey controls the redis summary cache TTL.
	SummaryCacheTTLSecondsKey = "SUMMARY_CACHE_TTL_SECONDS"
	// AlertRecipientsKey holds the recipient list stamped onto usage alerts,
	// as a JSON array or a comma-separated string.
	AlertRecipientsKey = "ALERT_RECIPIENTS"

	// DefaultMonthlyBudget is the fallback monthly budget in base-currency units.
	DefaultMonthlyBudget = 50.0
	// DefaultBlockAtLimit is the fallback block-at-limit flag.
	DefaultBlockAtLimit = true
	// DefaultAlertThresholdPct is the fallback alert threshold percent.
	DefaultAlertThresholdPct = 80
	// DefaultFallbackExchangeRate is the hard-coded source-to-target rate.
	DefaultFallbackExchangeRate = 0.92
	// DefaultMarkupPct is the fallback markup percent.
	DefaultMarkupPct = 0.0
	// DefaultEventsRetentionDays is the fallback ledger retention window.
	DefaultEventsRetentionDays = 0
	// DefaultSummaryCacheTTLSeconds is the fallback summary cache TTL.
	DefaultSummaryCacheTTLSeconds = 30
)
