package automation

import (
	"errors"
	"fmt"
)

// ErrDuplicateSuppressed is returned by the ledger when a concurrent run has
// already recorded the same event. Callers treat it as success.
var ErrDuplicateSuppressed = errors.New("duplicate suppressed")

type ConfigurationReason string

const (
	ReasonMissing    ConfigurationReason = "missing"
	ReasonInactive   ConfigurationReason = "inactive"
	ReasonIncomplete ConfigurationReason = "incomplete"
)

// ConfigurationError means a tenant's integration is not usable. A human has
// to fix it; nothing is retried.
type ConfigurationError struct {
	TenantID string
	Type     string
	Reason   ConfigurationReason
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s credential for tenant %s is %s", e.Type, e.TenantID, e.Reason)
}

// ProviderError is a failure reported by (or while reaching) the messaging
// provider.
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("provider unreachable: %s", e.Message)
	}
	return fmt.Sprintf("provider error %d (%s): %s", e.Status, e.Code, e.Message)
}

// DataError marks a rule whose stored configuration cannot be evaluated.
type DataError struct {
	RuleID string
	Err    error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("rule %s: invalid trigger configuration: %v", e.RuleID, e.Err)
}

func (e *DataError) Unwrap() error {
	return e.Err
}
