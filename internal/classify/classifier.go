// Package classify turns raw failures into structured classifications.
// Classification is rule-based pattern matching over the error message and
// the supplied context; it performs no network or database access, so
// identical inputs always produce identical output.
package classify

import (
	"strings"

	"github.com/tetherhq/tether-api/internal/domain"
)

// Context carries where a failure came from. It influences the generated
// user message but never the matching rules themselves.
type Context struct {
	Provider string
	Stage    domain.ErrorStage
}

// rule associates a category with the message fragments that select it.
type rule struct {
	category domain.ErrorCategory
	patterns []string
}

// rules are evaluated in order. Authentication blocks everything
// downstream and must dominate; processing is the fallback when nothing
// matches, so its own patterns sit ahead of configuration per the
// precedence authentication > permission > quota > network > data_format >
// processing > configuration.
var rules = []rule{
	{domain.ErrorCategoryAuthentication, []string{
		"invalid_grant",
		"invalid credentials",
		"token expired",
		"token has been expired",
		"token revoked",
		"unauthorized",
		"unauthenticated",
		"authentication",
		"401",
	}},
	{domain.ErrorCategoryPermission, []string{
		"permission denied",
		"insufficient scope",
		"insufficient permissions",
		"access denied",
		"forbidden",
		"403",
	}},
	{domain.ErrorCategoryQuota, []string{
		"rate limit",
		"rate_limit",
		"quota",
		"too many requests",
		"usage limit",
		"429",
	}},
	{domain.ErrorCategoryNetwork, []string{
		"timeout",
		"timed out",
		"connection refused",
		"connection reset",
		"no such host",
		"network",
		"unreachable",
		"dial tcp",
		"broken pipe",
		"502",
		"503",
		"504",
	}},
	{domain.ErrorCategoryDataFormat, []string{
		"unmarshal",
		"malformed",
		"invalid json",
		"unexpected end of json",
		"parse error",
		"failed to parse",
		"invalid character",
		"decode",
	}},
	{domain.ErrorCategoryProcessing, []string{
		"panic",
		"nil pointer",
		"internal error",
		"index out of range",
	}},
	{domain.ErrorCategoryConfiguration, []string{
		"not configured",
		"misconfigured",
		"invalid configuration",
		"invalid settings",
		"missing setting",
		"sync settings",
	}},
}

// severityByCategory is fixed policy: how urgently each category needs a
// human.
var severityByCategory = map[domain.ErrorCategory]domain.ErrorSeverity{
	domain.ErrorCategoryAuthentication: domain.ErrorSeverityCritical,
	domain.ErrorCategoryPermission:     domain.ErrorSeverityHigh,
	domain.ErrorCategoryConfiguration:  domain.ErrorSeverityHigh,
	domain.ErrorCategoryQuota:          domain.ErrorSeverityMedium,
	domain.ErrorCategoryNetwork:        domain.ErrorSeverityMedium,
	domain.ErrorCategoryDataFormat:     domain.ErrorSeverityLow,
	domain.ErrorCategoryProcessing:     domain.ErrorSeverityMedium,
}

// nonRetryable lists the categories that need a credential, grant, or
// settings change rather than a timer. Everything else defaults to
// retryable.
var nonRetryable = map[domain.ErrorCategory]bool{
	domain.ErrorCategoryAuthentication: true,
	domain.ErrorCategoryPermission:     true,
	domain.ErrorCategoryConfiguration:  true,
}

// Classify maps a raw failure plus context into a structured
// classification. It is pure and total: a nil error classifies as
// processing with an empty message rather than panicking.
func Classify(err error, ctx Context) domain.Classification {
	var message string
	if err != nil {
		message = err.Error()
	}

	category := matchCategory(message)

	return domain.Classification{
		Category:           category,
		Severity:           severityByCategory[category],
		Retryable:          !nonRetryable[category],
		UserMessage:        userMessage(category, ctx),
		RecoveryStrategies: recoveryStrategies(category, ctx),
	}
}

// matchCategory returns the first category in precedence order whose
// patterns appear in the message, defaulting to processing.
func matchCategory(message string) domain.ErrorCategory {
	lower := strings.ToLower(message)

	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(lower, p) {
				return r.category
			}
		}
	}

	return domain.ErrorCategoryProcessing
}

// providerLabel names the origin system for user-facing text.
func providerLabel(ctx Context) string {
	switch ctx.Provider {
	case "gmail":
		return "Gmail"
	case "calendar":
		return "Google Calendar"
	case "":
		return "the connected service"
	default:
		return ctx.Provider
	}
}

// userMessage builds the human-readable explanation the calling layer can
// show without understanding the underlying fault.
func userMessage(category domain.ErrorCategory, ctx Context) string {
	provider := providerLabel(ctx)

	switch category {
	case domain.ErrorCategoryAuthentication:
		return "Your connection to " + provider + " has expired. Please reconnect your account."
	case domain.ErrorCategoryPermission:
		return "Tether doesn't have permission to access " + provider + ". Please re-grant access."
	case domain.ErrorCategoryQuota:
		return provider + " is limiting requests right now. Syncing will resume automatically."
	case domain.ErrorCategoryNetwork:
		return "We couldn't reach " + provider + ". This is usually temporary."
	case domain.ErrorCategoryDataFormat:
		return "Some data from " + provider + " couldn't be read. The affected items were skipped."
	case domain.ErrorCategoryConfiguration:
		return "Your sync settings for " + provider + " look invalid. Please review them."
	default:
		return "Something went wrong while processing your data. We'll retry automatically."
	}
}

// recoveryStrategies returns the ordered, actionable steps for a category.
// The first entry is always the preferred action.
func recoveryStrategies(category domain.ErrorCategory, ctx Context) []domain.RecoveryStrategy {
	provider := providerLabel(ctx)

	switch category {
	case domain.ErrorCategoryAuthentication:
		return []domain.RecoveryStrategy{
			{
				Action:        "reconnect_account",
				Label:         "Reconnect " + provider,
				Description:   "Sign in again to refresh your connection to " + provider + ".",
				AutoRetryable: false,
				Urgency:       "high",
				EstimatedTime: "2 minutes",
				PreventionTips: []string{
					"Avoid revoking Tether's access from your account settings.",
				},
			},
			{
				Action:        "retry_after_reconnect",
				Label:         "Retry failed syncs",
				Description:   "Once reconnected, retry the syncs that failed.",
				AutoRetryable: true,
				Urgency:       "medium",
				EstimatedTime: "1 minute",
			},
		}
	case domain.ErrorCategoryPermission:
		return []domain.RecoveryStrategy{
			{
				Action:        "regrant_access",
				Label:         "Review permissions",
				Description:   "Re-grant the requested scopes for " + provider + ".",
				AutoRetryable: false,
				Urgency:       "high",
				EstimatedTime: "2 minutes",
			},
		}
	case domain.ErrorCategoryQuota:
		return []domain.RecoveryStrategy{
			{
				Action:        "wait_and_retry",
				Label:         "Wait and retry",
				Description:   "The limit resets on its own; retries are scheduled with backoff.",
				AutoRetryable: true,
				Urgency:       "low",
				EstimatedTime: "15-60 minutes",
				PreventionTips: []string{
					"Reduce sync frequency if this happens often.",
				},
			},
		}
	case domain.ErrorCategoryNetwork:
		return []domain.RecoveryStrategy{
			{
				Action:        "retry",
				Label:         "Retry now",
				Description:   "Connectivity problems usually clear quickly.",
				AutoRetryable: true,
				Urgency:       "low",
				EstimatedTime: "1 minute",
			},
		}
	case domain.ErrorCategoryDataFormat:
		return []domain.RecoveryStrategy{
			{
				Action:        "retry",
				Label:         "Retry processing",
				Description:   "Retry in case the source data was fixed upstream.",
				AutoRetryable: true,
				Urgency:       "low",
				EstimatedTime: "1 minute",
			},
			{
				Action:        "contact_support",
				Label:         "Contact support",
				Description:   "If this keeps happening, the source item may be permanently malformed.",
				AutoRetryable: false,
				Urgency:       "low",
				EstimatedTime: "1 day",
			},
		}
	case domain.ErrorCategoryConfiguration:
		return []domain.RecoveryStrategy{
			{
				Action:        "review_settings",
				Label:         "Review sync settings",
				Description:   "Open settings and fix the configuration for " + provider + ".",
				AutoRetryable: false,
				Urgency:       "medium",
				EstimatedTime: "5 minutes",
			},
		}
	default:
		return []domain.RecoveryStrategy{
			{
				Action:        "retry",
				Label:         "Retry",
				Description:   "Internal faults are usually transient; retry the job.",
				AutoRetryable: true,
				Urgency:       "low",
				EstimatedTime: "1 minute",
			},
		}
	}
}
