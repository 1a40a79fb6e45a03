package engine

import "math"

// Progress summarises how far through the exam a user is.
// The counts are exact and used for gating; Percent is for display.
type Progress struct {
	Total      int     `json:"total"`
	Answered   int     `json:"answered"`
	Review     int     `json:"review"`
	Unanswered int     `json:"unanswered"`
	Percent    float64 `json:"percent"`
}

// CalculateProgress derives progress counts. Indices outside [0,total) are ignored.
func CalculateProgress(total int, answers map[int]string, flags []int) Progress {
	p := Progress{Total: total}
	if total <= 0 {
		return p
	}

	for idx := range answers {
		if idx >= 0 && idx < total {
			p.Answered++
		}
	}
	for _, idx := range flags {
		if idx >= 0 && idx < total {
			p.Review++
		}
	}

	p.Unanswered = total - p.Answered
	p.Percent = float64(p.Answered) / float64(total) * 100
	return p
}

// DisplayPercent returns Percent rounded to the nearest integer.
func (p Progress) DisplayPercent() int {
	return int(math.Round(p.Percent))
}

// Complete reports whether every question has an answer.
func (p Progress) Complete() bool {
	return p.Total > 0 && p.Unanswered == 0
}
