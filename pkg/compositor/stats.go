package compositor

import "time"

// Stats tracks compositor activity.
type Stats struct {
	Frames        int64
	FailedFrames  int64
	Launches      [3]int64 // indexed by Tier
	SkippedPushes int64    // pushes refused because the frame had failed
	BindWarnings  int64    // binds skipped because a buffer was empty
	LastFinish    time.Duration
}

// TotalLaunches sums the launches of every tier.
func (s Stats) TotalLaunches() int64 {
	return s.Launches[TierUnordered] + s.Launches[TierSmall] + s.Launches[TierLarge]
}
