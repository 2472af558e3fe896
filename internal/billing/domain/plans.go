package domain

// PlanLimits defines the resource ceilings for a plan tier.
type PlanLimits struct {
	MaxAPICalls    int64 // market/chat API calls per period
	MaxStorageMB   int64 // stored watchlists, reports, exports
	MaxActiveUsers int64 // seats under one account
}

// Plans maps price ids to their limits. The starter tier is intentionally
// tight; desk and institutional track what sales actually quotes.
var Plans = map[string]PlanLimits{
	"price_starter": {
		MaxAPICalls:    1_000,
		MaxStorageMB:   100,
		MaxActiveUsers: 1,
	},
	"price_desk": {
		MaxAPICalls:    25_000,
		MaxStorageMB:   2_048,
		MaxActiveUsers: 5,
	},
	"price_institutional": {
		MaxAPICalls:    500_000,
		MaxStorageMB:   20_480,
		MaxActiveUsers: 50,
	},
}

// LimitsFor returns the limits for a price id. The second return is false
// for unknown plans; callers treat that as over-limit (fail closed).
func LimitsFor(planID string) (PlanLimits, bool) {
	limits, ok := Plans[planID]
	return limits, ok
}
