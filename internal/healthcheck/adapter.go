package healthcheck

import "context"

// Aggregate runs several checkers and merges their results.
type Aggregate struct {
	checkers []Checker
}

// NewAggregate creates an aggregate checker. Nil checkers are skipped.
func NewAggregate(checkers ...Checker) *Aggregate {
	a := &Aggregate{}
	for _, c := range checkers {
		if c != nil {
			a.checkers = append(a.checkers, c)
		}
	}
	return a
}

// ListChecks evaluates every checker in order.
func (a *Aggregate) ListChecks(ctx context.Context) []CheckResult {
	if a == nil {
		return []CheckResult{}
	}
	result := make([]CheckResult, 0, len(a.checkers))
	for _, c := range a.checkers {
		result = append(result, c.ListChecks(ctx)...)
	}
	return result
}

// Overall folds item statuses into one: error beats warn beats unknown
// beats ok. An empty list is unknown.
func Overall(items []CheckResult) string {
	if len(items) == 0 {
		return StatusUnknown
	}
	rank := map[string]int{StatusOK: 0, StatusUnknown: 1, StatusWarn: 2, StatusError: 3}
	worst := StatusOK
	for _, item := range items {
		if rank[item.Status] > rank[worst] {
			worst = item.Status
		}
	}
	return worst
}
