package domain

// ErrorCategory identifies the broad class of a failure.
type ErrorCategory string

// Known error categories, ordered here by classification precedence:
// authentication blocks everything downstream and must dominate.
const (
	ErrorCategoryAuthentication ErrorCategory = "authentication"
	ErrorCategoryPermission     ErrorCategory = "permission"
	ErrorCategoryQuota          ErrorCategory = "quota"
	ErrorCategoryNetwork        ErrorCategory = "network"
	ErrorCategoryDataFormat     ErrorCategory = "data_format"
	ErrorCategoryProcessing     ErrorCategory = "processing"
	ErrorCategoryConfiguration  ErrorCategory = "configuration"

	// ErrorCategoryUnknown is used for legacy records persisted without a
	// classification. It never comes out of the classifier itself.
	ErrorCategoryUnknown ErrorCategory = "unknown"
)

// ErrorSeverity ranks how urgently a failure needs attention.
type ErrorSeverity string

// Possible severity values
const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// RecoveryStrategy describes one actionable step the calling layer can
// present to a user to resolve a classified error.
type RecoveryStrategy struct {
	Action         string   `json:"action"`
	Label          string   `json:"label"`
	Description    string   `json:"description"`
	AutoRetryable  bool     `json:"auto_retryable"`
	Urgency        string   `json:"urgency"`
	EstimatedTime  string   `json:"estimated_time"`
	PreventionTips []string `json:"prevention_tips,omitempty"`
}

// Classification is the structured interpretation of a raw failure.
// It is a value object embedded in ErrorRecord, never persisted on its own.
type Classification struct {
	Category           ErrorCategory      `json:"category"`
	Severity           ErrorSeverity      `json:"severity"`
	Retryable          bool               `json:"retryable"`
	UserMessage        string             `json:"user_message"`
	RecoveryStrategies []RecoveryStrategy `json:"recovery_strategies,omitempty"`
}

// isValidErrorCategory checks if the given category is known.
func isValidErrorCategory(category ErrorCategory) bool {
	switch category {
	case ErrorCategoryAuthentication, ErrorCategoryPermission,
		ErrorCategoryQuota, ErrorCategoryNetwork, ErrorCategoryDataFormat,
		ErrorCategoryProcessing, ErrorCategoryConfiguration,
		ErrorCategoryUnknown:
		return true
	default:
		return false
	}
}

// isValidErrorSeverity checks if the given severity is known.
func isValidErrorSeverity(severity ErrorSeverity) bool {
	switch severity {
	case ErrorSeverityLow, ErrorSeverityMedium, ErrorSeverityHigh,
		ErrorSeverityCritical:
		return true
	default:
		return false
	}
}
