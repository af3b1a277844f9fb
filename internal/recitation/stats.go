package recitation

import "github.com/MrWong99/tasmi/internal/scoring"

// Stats summarises a result list.
type Stats struct {
	TotalWords      int
	CorrectWords    int
	OverallAccuracy float64
}

// ComputeStats returns the word counts and the mean similarity rounded to
// two decimals. An empty list yields zero accuracy.
func ComputeStats(results []WordResult) Stats {
	st := Stats{TotalWords: len(results)}
	if len(results) == 0 {
		return st
	}
	var sum float64
	for _, r := range results {
		if r.Verdict.Status == scoring.StatusCorrect {
			st.CorrectWords++
		}
		sum += r.Verdict.Similarity
	}
	st.OverallAccuracy = scoring.Round2(sum / float64(len(results)))
	return st
}
