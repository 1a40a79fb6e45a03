package engine

import "sort"

// OptionView is one choice rendered for the user.
type OptionView struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// QuestionPrompt is what the question-render collaborator receives: the
// question without its correct key, its index and the current selection.
type QuestionPrompt struct {
	Index    int          `json:"index"`
	ID       string       `json:"id"`
	Prompt   string       `json:"prompt"`
	Media    string       `json:"media,omitempty"`
	Options  []OptionView `json:"options"`
	Selected string       `json:"selected,omitempty"`
	Flagged  bool         `json:"flagged"`
}

// Instructions is shown while BRIEFED, before the timer starts.
type Instructions struct {
	ExamName        string `json:"exam_name"`
	Category        string `json:"category"`
	QuestionCount   int    `json:"question_count"`
	DurationSeconds int    `json:"duration_seconds"`
	TotalMarks      int    `json:"total_marks"`
	PassingMarks    int    `json:"passing_marks"`
}

// View is a read-only snapshot of a session for the display layer.
type View struct {
	SessionID        string          `json:"session_id"`
	ExamID           string          `json:"exam_id"`
	UserID           string          `json:"user_id"`
	Phase            Phase           `json:"phase"`
	DurationSeconds  int             `json:"duration_seconds"`
	SecondsRemaining int             `json:"seconds_remaining"`
	Expired          bool            `json:"expired"`
	CurrentIndex     int             `json:"current_index"`
	Instructions     *Instructions   `json:"instructions,omitempty"`
	Question         *QuestionPrompt `json:"question,omitempty"`
	Answers          map[int]string  `json:"answers,omitempty"`
	Flags            []int           `json:"flags,omitempty"`
	Progress         Progress        `json:"progress"`
	Result           *ResultRecord   `json:"result,omitempty"`
	Report           ReportStatus    `json:"report"`
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()

	answers := s.tracker.Answers()
	flags := s.tracker.Flags()

	v := View{
		SessionID:        s.id,
		ExamID:           s.def.ID,
		UserID:           s.identity.ID,
		Phase:            s.phase,
		DurationSeconds:  s.def.DurationSeconds,
		SecondsRemaining: s.secondsRemaining,
		Expired:          s.expired,
		CurrentIndex:     s.current,
		Progress:         CalculateProgress(len(s.def.Questions), answers, flags),
		Report:           s.status,
	}

	switch s.phase {
	case PhaseBriefed:
		v.Instructions = &Instructions{
			ExamName:        s.def.Name,
			Category:        s.def.Category,
			QuestionCount:   len(s.def.Questions),
			DurationSeconds: s.def.DurationSeconds,
			TotalMarks:      s.def.TotalMarks,
			PassingMarks:    s.def.PassingMarks,
		}
	case PhaseInProgress:
		p := s.promptLocked(s.current)
		v.Question = &p
		v.Answers = answers
		v.Flags = flags
	case PhaseFinished:
		if s.result != nil {
			res := s.result.clone()
			v.Result = &res
		}
	}
	return v
}

// Prompt returns the display contract for question index.
func (s *Session) Prompt(index int) (QuestionPrompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.validIndex(index) {
		return QuestionPrompt{}, ErrQuestionIndex
	}
	return s.promptLocked(index), nil
}

func (s *Session) promptLocked(index int) QuestionPrompt {
	q := s.def.Questions[index]
	return QuestionPrompt{
		Index:    index,
		ID:       q.ID,
		Prompt:   q.Prompt,
		Media:    q.Media,
		Options:  optionViews(q.Options),
		Selected: s.tracker.Selected(index),
		Flagged:  s.tracker.IsFlagged(index),
	}
}

func optionViews(opts map[string]string) []OptionView {
	out := make([]OptionView, 0, len(opts))
	for k, v := range opts {
		out = append(out, OptionView{Key: k, Text: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
