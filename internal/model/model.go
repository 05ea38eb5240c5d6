package model

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Record is one couplet of the corpus with its translations and classification tags.
type Record struct {
	Number        int    `json:"ID"`
	Kural         string `json:"Kural"`
	Couplet       string `json:"Couplet"`
	Vilakam       string `json:"Vilakam"`
	KalaingarUrai string `json:"Kalaingar_Urai"`
	Paal          string `json:"Paal"`
	Iyal          string `json:"Iyal"`
	Adhigaram     string `json:"Adhigaram"`
}

// Validate reports the first missing field of the record, or nil.
func (r Record) Validate() error {
	if r.Number <= 0 {
		return fmt.Errorf("invalid number %d", r.Number)
	}
	fields := []struct{ name, value string }{
		{"Kural", r.Kural},
		{"Couplet", r.Couplet},
		{"Vilakam", r.Vilakam},
		{"Kalaingar_Urai", r.KalaingarUrai},
		{"Paal", r.Paal},
		{"Iyal", r.Iyal},
		{"Adhigaram", r.Adhigaram},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("kural %d: empty %s", r.Number, f.name)
		}
	}
	return nil
}

// NumberText returns the couplet number as a string option.
func (r Record) NumberText() string {
	return strconv.Itoa(r.Number)
}

// Lines splits the couplet text on its embedded line breaks.
func (r Record) Lines() []string {
	text := ReplaceLineBreaks(r.Kural, "\n")
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

var lineBreaks = strings.NewReplacer("<br />", "\n", "<br/>", "\n", "<br>", "\n")

// ReplaceLineBreaks replaces HTML line breaks in dataset text with sep.
func ReplaceLineBreaks(s, sep string) string {
	s = lineBreaks.Replace(s)
	if sep != "\n" {
		s = strings.ReplaceAll(s, "\n", sep)
	}
	return s
}

// Normalize returns the comparison form of a field value: NFC, trimmed,
// inner whitespace collapsed.
func Normalize(s string) string {
	return strings.Join(strings.Fields(norm.NFC.String(s)), " ")
}

// Archetype names a question template bound to one record field.
type Archetype string

const (
	ArchetypeMeaning       Archetype = "meaning"
	ArchetypeAdhigaram     Archetype = "adhigaram"
	ArchetypePaal          Archetype = "paal"
	ArchetypeIyal          Archetype = "iyal"
	ArchetypeCouplet       Archetype = "couplet"
	ArchetypeKalaingarUrai Archetype = "kalaingar_urai"
	ArchetypeWordContext   Archetype = "word_context"
	ArchetypeNumber        Archetype = "number"
)

// Question is a generated multiple-choice question. It is not modified after generation.
type Question struct {
	Archetype    Archetype `json:"archetype"`
	Prompt       string    `json:"prompt"`
	Word         string    `json:"word,omitempty"`
	Kural        string    `json:"kural"`
	RecordNumber int       `json:"record_number"`
	Options      []string  `json:"options"`
	Correct      string    `json:"correct"`
}

// CorrectIndex returns the position of the correct answer in Options, or -1.
func (q Question) CorrectIndex() int {
	want := Normalize(q.Correct)
	for i, o := range q.Options {
		if Normalize(o) == want {
			return i
		}
	}
	return -1
}

// IsCorrect grades an answer against the correct option.
func (q Question) IsCorrect(answer string) bool {
	return Normalize(answer) == Normalize(q.Correct)
}

// QuizConfig holds runtime quiz parameters set via CLI flags.
type QuizConfig struct {
	Strategy         string        // distractor strategy (random, semantic)
	Distractors      int           // wrong options per question
	MaxQuestions     int           // upper bound offered on the start page
	DefaultQuestions int           // preselected number of questions
	AdvanceDelay     time.Duration // pause before moving on after feedback; 0 disables
	FallbackRandom   bool          // use random distractors when embeddings fail
	BasePath         string        // URL prefix for sub-path deployments (e.g. "/ta")
	SecureCookies    bool          // Set Secure flag on cookies (disable for local dev)
	CORSOrigins      []string      // allowed origins for the JSON API
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}
