package model

import (
	"errors"
	"math"
	"time"
)

var (
	ErrInvalidTotal     = errors.New("number of questions must be positive")
	ErrNoQuestion       = errors.New("no question to show")
	ErrAlreadyAnswered  = errors.New("question already answered")
	ErrNotAnswered      = errors.New("question not answered yet")
	ErrSessionFinished  = errors.New("quiz already finished")
	ErrSessionNotActive = errors.New("quiz not started")
)

// Grade is the coarse rating shown on the result page.
type Grade string

const (
	GradeExcellent    Grade = "excellent"
	GradeGood         Grade = "good"
	GradeKeepLearning Grade = "keep_learning"
)

// Verdict selects the closing message of a finished quiz.
type Verdict string

const (
	VerdictPerfect   Verdict = "perfect"
	VerdictExcellent Verdict = "excellent"
	VerdictGood      Verdict = "good"
	VerdictStart     Verdict = "start"
	VerdictZero      Verdict = "zero"
)

// Session is one user's pass through a quiz. A zero Session is idle: no quiz
// has been started. Callers serialize access; Session has no locking of its own.
type Session struct {
	ID          string
	Score       int       // correct answers so far
	Number      int       // 1-based index of the current question
	Total       int       // questions requested
	Current     *Question // question on screen, nil once finished
	Answered    bool      // Current has been graded
	LastAnswer  string
	LastCorrect bool
	StartedAt   time.Time
	UpdatedAt   time.Time
}

// NewSession returns an idle session.
func NewSession(id string) *Session {
	now := time.Now()
	return &Session{ID: id, StartedAt: now, UpdatedAt: now}
}

// Start begins a quiz of total questions with first on screen, discarding any previous progress.
func (s *Session) Start(total int, first Question) error {
	if total <= 0 {
		return ErrInvalidTotal
	}
	if len(first.Options) == 0 {
		return ErrNoQuestion
	}
	s.Reset()
	s.Total = total
	s.Number = 1
	s.Current = &first
	s.StartedAt = s.UpdatedAt
	return nil
}

// Submit grades answer against the current question. A question is graded at most once.
func (s *Session) Submit(answer string) (bool, error) {
	switch {
	case s.Total == 0:
		return false, ErrSessionNotActive
	case s.Finished():
		return false, ErrSessionFinished
	case s.Answered:
		return false, ErrAlreadyAnswered
	case s.Current == nil:
		return false, ErrNoQuestion
	}

	correct := s.Current.IsCorrect(answer)
	if correct {
		s.Score++
	}
	s.Answered = true
	s.LastAnswer = answer
	s.LastCorrect = correct
	s.touch()
	return correct, nil
}

// Advance moves past the graded question. next is required unless the
// quiz ends with this step.
func (s *Session) Advance(next *Question) error {
	switch {
	case s.Total == 0:
		return ErrSessionNotActive
	case s.Finished():
		return ErrSessionFinished
	case !s.Answered:
		return ErrNotAnswered
	}

	if s.Number < s.Total && (next == nil || len(next.Options) == 0) {
		return ErrNoQuestion
	}

	s.Number++
	s.Answered = false
	s.LastAnswer = ""
	s.LastCorrect = false
	if s.Finished() {
		s.Current = nil
	} else {
		s.Current = next
	}
	s.touch()
	return nil
}

// HasNext reports whether another question follows the current one.
func (s *Session) HasNext() bool {
	return s.Active() && s.Number < s.Total
}

// Reset returns the session to idle.
func (s *Session) Reset() {
	id := s.ID
	*s = Session{ID: id}
	s.touch()
}

// Active reports whether a quiz is in progress.
func (s *Session) Active() bool {
	return s.Total > 0 && !s.Finished()
}

// Finished reports whether every question has been answered.
func (s *Session) Finished() bool {
	return s.Total > 0 && s.Number > s.Total
}

// Graded returns how many questions have been graded.
func (s *Session) Graded() int {
	if s.Total == 0 {
		return 0
	}
	n := s.Number - 1
	if s.Answered {
		n++
	}
	return min(n, s.Total)
}

// Progress returns the fraction of the quiz reached by the current question.
func (s *Session) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	return math.Min(float64(s.Number)/float64(s.Total), 1)
}

// Percentage returns the rounded score over the requested total.
func (s *Session) Percentage() int {
	if s.Total == 0 {
		return 0
	}
	return int(math.Round(float64(s.Score) / float64(s.Total) * 100))
}

// Grade rates the final percentage.
func (s *Session) Grade() Grade {
	p := s.Percentage()
	switch {
	case p >= 80:
		return GradeExcellent
	case p >= 60:
		return GradeGood
	default:
		return GradeKeepLearning
	}
}

// Verdict picks the closing message for the final score.
func (s *Session) Verdict() Verdict {
	if s.Score == 0 {
		return VerdictZero
	}
	p := s.Percentage()
	switch {
	case p == 100:
		return VerdictPerfect
	case p >= 80:
		return VerdictExcellent
	case p >= 60:
		return VerdictGood
	default:
		return VerdictStart
	}
}

func (s *Session) touch() {
	s.UpdatedAt = time.Now()
}
