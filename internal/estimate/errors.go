package estimate

import "fmt"

// InsufficientDataError means no method can produce an estimate for a
// category. The category is excluded from totals, not treated as zero.
type InsufficientDataError struct {
	Category string
	Reason   string
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("estimate: insufficient data for %s: %s", e.Category, e.Reason)
}

// ConfigurationError means the selected method lacks required inputs. It is
// fatal for the category's estimate only.
type ConfigurationError struct {
	Category string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("estimate: configuration error for %s: %s", e.Category, e.Reason)
}
