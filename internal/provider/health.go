package provider

import (
	"time"

	"github.com/jmehdipour/inference-gateway/internal/model"
)

const (
	DefaultFailureThreshold = 2

	// latencyAlpha weights the newest sample in the rolling average.
	latencyAlpha   = 0.2
	tokensPerPoint = 100
)

// ApplyFailure records one failed dispatch. It reports whether this
// failure moved the provider from active to inactive.
func ApplyFailure(p *model.Provider, threshold int, now time.Time) bool {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	ts := now.UTC()
	p.ConsecutiveFailures++
	p.LastFailureAt = &ts
	p.TotalRequests++

	if p.Active && p.ConsecutiveFailures >= threshold {
		p.Active = false
		p.MarkedInactiveAt = &ts
		return true
	}
	return false
}

// ApplySuccess resets the failure streak and folds latency into the rolling average.
func ApplySuccess(p *model.Provider, latency time.Duration) {
	p.ConsecutiveFailures = 0
	p.TotalRequests++

	ms := float64(latency) / float64(time.Millisecond)
	if p.AvgResponseMs == 0 {
		p.AvgResponseMs = ms
		return
	}
	p.AvgResponseMs = latencyAlpha*ms + (1-latencyAlpha)*p.AvgResponseMs
}

// PointsFor is the reputation earned for tokens processed: one per hundred, floored.
func PointsFor(tokens int) int64 {
	if tokens <= 0 {
		return 0
	}
	return int64(tokens / tokensPerPoint)
}

// AwardPoints adds reputation for a successful dispatch. Points never go down.
func AwardPoints(p *model.Provider, tokens int) int64 {
	n := PointsFor(tokens)
	p.Points += n
	return n
}

// Reactivate returns a provider to the active state. A non-empty credential
// replaces the stored one.
func Reactivate(p *model.Provider, credential string) {
	if credential != "" {
		p.Credential = credential
	}
	p.Active = true
	p.ConsecutiveFailures = 0
	p.MarkedInactiveAt = nil
}
