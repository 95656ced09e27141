// Package ranking computes visibility scores for feed ordering. Scores are
// derived values: always recomputed from current inputs and never persisted
// as a source of truth.
package ranking

import "time"

// Kind identifies what a snapshot describes.
type Kind string

const (
	KindLiveSession Kind = "live_session"
	KindPost        Kind = "post"
	KindProfile     Kind = "profile"
)

// Snapshot is the engagement state of one piece of content at scoring time.
type Snapshot struct {
	Kind      Kind
	CreatedAt time.Time
	Viewers   int
	Bids      int
	Likes     int
	Comments  int
	Shares    int
	Followers int
}

// BaseFloor is the minimum base score for any content kind, so new content
// is never invisible.
const BaseFloor = 50

// Per-metric weights and caps. Each metric is capped individually so no
// single signal (e.g. raw view count) dominates the score.
const (
	viewerWeight, viewerCap     = 10, 500
	bidWeight, bidCap           = 20, 400
	commentWeight, commentCap   = 2, 100
	shareWeight, shareCap       = 5, 100
	likeWeight, likeCap         = 3, 300
	followerWeight, followerCap = 2, 400
)

// decaySteps maps content age to a retained percentage of the score.
// Recency is rewarded without fully zeroing out older content.
var decaySteps = []struct {
	maxAge  time.Duration
	percent int
}{
	{4 * time.Hour, 100},
	{12 * time.Hour, 90},
	{24 * time.Hour, 80},
	{48 * time.Hour, 70},
	{72 * time.Hour, 60},
}

// decayFloorPercent applies to anything older than the last step.
const decayFloorPercent = 50

// Score maps a content snapshot, a boost multiplier and the current time to a
// sortable integer. Pure function: no side effects, no hidden state. A
// multiplier of zero or less means no active boost and defaults to 1.
func Score(s Snapshot, boostMultiplier float64, now time.Time) int {
	base := baseScore(s)
	if base < BaseFloor {
		base = BaseFloor
	}
	if boostMultiplier <= 0 {
		boostMultiplier = 1
	}
	boosted := float64(base) * boostMultiplier
	return int(boosted * float64(decayPercent(now.Sub(s.CreatedAt))) / 100)
}

func baseScore(s Snapshot) int {
	switch s.Kind {
	case KindLiveSession:
		return capped(s.Viewers, viewerWeight, viewerCap) +
			capped(s.Bids, bidWeight, bidCap) +
			capped(s.Comments, commentWeight, commentCap) +
			capped(s.Shares, shareWeight, shareCap)
	case KindPost:
		return capped(s.Likes, likeWeight, likeCap) +
			capped(s.Comments, commentWeight+2, 200) +
			capped(s.Shares, shareWeight*2, 200)
	case KindProfile:
		return capped(s.Followers, followerWeight, followerCap) +
			capped(s.Likes, likeWeight, likeCap)
	default:
		return 0
	}
}

func capped(n, weight, cap int) int {
	v := n * weight
	if v > cap {
		return cap
	}
	if v < 0 {
		return 0
	}
	return v
}

func decayPercent(age time.Duration) int {
	for _, step := range decaySteps {
		if age <= step.maxAge {
			return step.percent
		}
	}
	return decayFloorPercent
}
