package model

import (
	"errors"
	"testing"
)

func testQuestion(correct string, options ...string) Question {
	return Question{
		Archetype: ArchetypePaal,
		Prompt:    "This Thirukkural belongs to which Paal?",
		Options:   options,
		Correct:   correct,
	}
}

func TestRecordValidate(t *testing.T) {
	valid := Record{
		Number:        1,
		Kural:         "அகர முதல எழுத்தெல்லாம் ஆதி<br />பகவன் முதற்றே உலகு",
		Couplet:       "A, as its first of letters, every speech maintains",
		Vilakam:       "விளக்கம்",
		KalaingarUrai: "உரை",
		Paal:          "அறத்துப்பால்",
		Iyal:          "பாயிரவியல்",
		Adhigaram:     "கடவுள் வாழ்த்து",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid record rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Record)
	}{
		{"zero number", func(r *Record) { r.Number = 0 }},
		{"empty kural", func(r *Record) { r.Kural = "" }},
		{"blank couplet", func(r *Record) { r.Couplet = "   " }},
		{"empty vilakam", func(r *Record) { r.Vilakam = "" }},
		{"empty urai", func(r *Record) { r.KalaingarUrai = "" }},
		{"empty paal", func(r *Record) { r.Paal = "" }},
		{"empty iyal", func(r *Record) { r.Iyal = "" }},
		{"empty adhigaram", func(r *Record) { r.Adhigaram = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			tt.mutate(&r)
			if err := r.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestRecordLines(t *testing.T) {
	r := Record{Kural: "அகர முதல எழுத்தெல்லாம் ஆதி<br />பகவன் முதற்றே உலகு"}
	lines := r.Lines()
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}
	if lines[1] != "பகவன் முதற்றே உலகு" {
		t.Errorf("unexpected second line %q", lines[1])
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Love  ", "Love"},
		{"two\t words", "two words"},
		{"e\u0301", "\u00e9"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuestionGrading(t *testing.T) {
	q := testQuestion("Virtue", "Wealth", "Virtue", "Love")
	if got := q.CorrectIndex(); got != 1 {
		t.Errorf("CorrectIndex() = %d, want 1", got)
	}
	if !q.IsCorrect(" Virtue ") {
		t.Error("trimmed answer should be correct")
	}
	if q.IsCorrect("virtue") {
		t.Error("grading is case sensitive")
	}

	missing := testQuestion("Virtue", "Wealth", "Love")
	if got := missing.CorrectIndex(); got != -1 {
		t.Errorf("CorrectIndex() = %d, want -1", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := NewSession("s1")
	if s.Active() || s.Finished() {
		t.Fatal("new session should be idle")
	}
	if _, err := s.Submit("x"); !errors.Is(err, ErrSessionNotActive) {
		t.Fatalf("Submit on idle session: %v", err)
	}

	q1 := testQuestion("A", "A", "B")
	q2 := testQuestion("C", "C", "D")

	if err := s.Start(0, q1); !errors.Is(err, ErrInvalidTotal) {
		t.Fatalf("Start(0): expected ErrInvalidTotal, got %v", err)
	}
	if err := s.Start(2, q1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.Number != 1 || s.Total != 2 || !s.Active() {
		t.Fatalf("unexpected state after start: %+v", s)
	}

	// Advancing before answering is rejected.
	if err := s.Advance(&q2); !errors.Is(err, ErrNotAnswered) {
		t.Fatalf("expected ErrNotAnswered, got %v", err)
	}

	ok, err := s.Submit("A")
	if err != nil || !ok {
		t.Fatalf("Submit correct: ok=%v err=%v", ok, err)
	}
	if _, err := s.Submit("A"); !errors.Is(err, ErrAlreadyAnswered) {
		t.Fatalf("double submit: expected ErrAlreadyAnswered, got %v", err)
	}
	if s.Score != 1 || s.Graded() != 1 {
		t.Errorf("score=%d graded=%d, want 1/1", s.Score, s.Graded())
	}
	if !s.HasNext() {
		t.Error("expected another question")
	}

	if err := s.Advance(nil); !errors.Is(err, ErrNoQuestion) {
		t.Fatalf("Advance(nil) mid-quiz: expected ErrNoQuestion, got %v", err)
	}
	if err := s.Advance(&q2); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if s.Number != 2 || s.Answered || s.Current.Correct != "C" {
		t.Fatalf("unexpected state after advance: %+v", s)
	}

	ok, err = s.Submit("D")
	if err != nil || ok {
		t.Fatalf("Submit wrong: ok=%v err=%v", ok, err)
	}
	if s.HasNext() {
		t.Error("last question should not have a successor")
	}
	if err := s.Advance(nil); err != nil {
		t.Fatalf("final Advance: %v", err)
	}
	if !s.Finished() || s.Active() || s.Current != nil {
		t.Fatalf("expected finished session: %+v", s)
	}
	if s.Graded() != 2 {
		t.Errorf("Graded() = %d, want 2", s.Graded())
	}
	if _, err := s.Submit("C"); !errors.Is(err, ErrSessionFinished) {
		t.Fatalf("Submit after finish: %v", err)
	}

	s.Reset()
	if s.ID != "s1" || s.Total != 0 || s.Score != 0 || s.Current != nil {
		t.Fatalf("Reset kept progress: %+v", s)
	}
}

func TestSessionScoring(t *testing.T) {
	tests := []struct {
		score, total int
		percentage   int
		grade        Grade
		verdict      Verdict
	}{
		{5, 5, 100, GradeExcellent, VerdictPerfect},
		{4, 5, 80, GradeExcellent, VerdictExcellent},
		{3, 5, 60, GradeGood, VerdictGood},
		{2, 3, 67, GradeGood, VerdictGood},
		{1, 5, 20, GradeKeepLearning, VerdictStart},
		{0, 5, 0, GradeKeepLearning, VerdictZero},
	}
	for _, tt := range tests {
		s := &Session{Score: tt.score, Total: tt.total, Number: tt.total + 1}
		if got := s.Percentage(); got != tt.percentage {
			t.Errorf("%d/%d: Percentage() = %d, want %d", tt.score, tt.total, got, tt.percentage)
		}
		if got := s.Grade(); got != tt.grade {
			t.Errorf("%d/%d: Grade() = %q, want %q", tt.score, tt.total, got, tt.grade)
		}
		if got := s.Verdict(); got != tt.verdict {
			t.Errorf("%d/%d: Verdict() = %q, want %q", tt.score, tt.total, got, tt.verdict)
		}
	}
}
