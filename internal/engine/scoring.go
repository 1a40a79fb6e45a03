package engine

// Score classifies every question as correct, wrong or skipped, in index order,
// and derives the verdict from the correct count. It is pure: identical inputs
// yield identical records. Timing fields are left zero for the caller to stamp.
func Score(questions []Question, answers map[int]string, passingMarks int) ResultRecord {
	r := ResultRecord{
		Correct:      []Outcome{},
		Wrong:        []Outcome{},
		Skipped:      []Outcome{},
		PassingMarks: passingMarks,
	}

	for i, q := range questions {
		r.MaxPoints += q.Points()

		selected, ok := answers[i]
		switch {
		case !ok:
			r.Skipped = append(r.Skipped, Outcome{Index: i, Question: q})
		case selected == q.CorrectOption:
			r.Correct = append(r.Correct, Outcome{Index: i, Question: q, Selected: selected})
			r.Points += q.Points()
		default:
			r.Wrong = append(r.Wrong, Outcome{Index: i, Question: q, Selected: selected})
		}
	}

	r.CorrectCount = len(r.Correct)
	r.WrongCount = len(r.Wrong)
	r.SkippedCount = len(r.Skipped)

	if len(questions) > 0 {
		r.Percentage = float64(r.CorrectCount) / float64(len(questions)) * 100
	}

	r.Verdict = VerdictFail
	if r.CorrectCount >= passingMarks {
		r.Verdict = VerdictPass
	}
	return r
}

// Scorer is the signature of Score, injectable for auditing how often scoring runs.
type Scorer func(questions []Question, answers map[int]string, passingMarks int) ResultRecord
