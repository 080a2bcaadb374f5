package service

// ClipPlan is the time window of one clip to cut.
type ClipPlan struct {
	Index    int
	Start    float64
	Duration float64
}

// PlanClips covers [0, sourceDuration) with consecutive windows of
// clipDuration seconds; only the last one may be shorter.
func PlanClips(sourceDuration, clipDuration int) []ClipPlan {
	if sourceDuration <= 0 || clipDuration <= 0 {
		return nil
	}
	n := (sourceDuration + clipDuration - 1) / clipDuration
	plans := make([]ClipPlan, 0, n)
	for i := 0; i < n; i++ {
		start := i * clipDuration
		length := min(clipDuration, sourceDuration-start)
		plans = append(plans, ClipPlan{
			Index:    i + 1,
			Start:    float64(start),
			Duration: float64(length),
		})
	}
	return plans
}

// EstimateProcessingSeconds is the rough wait reported to clients when a job
// is queued.
func EstimateProcessingSeconds(sourceDuration, clipDuration int) int {
	clips := len(PlanClips(sourceDuration, clipDuration))
	return max(30, clips*2+30)
}
