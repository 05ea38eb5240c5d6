package quiz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"unicode"

	"github.com/pavelanni/kuralquiz/internal/model"
)

const DefaultDistractors = 3

var (
	ErrUnknownArchetype = errors.New("unknown question archetype")
	ErrNoValidQuestion  = errors.New("no valid question for record")
)

// Archetype menus offered when the caller does not ask for one.
var (
	RandomMenu = []model.Archetype{
		model.ArchetypeMeaning,
		model.ArchetypeAdhigaram,
		model.ArchetypePaal,
		model.ArchetypeIyal,
		model.ArchetypeCouplet,
		model.ArchetypeKalaingarUrai,
		model.ArchetypeWordContext,
	}
	SemanticMenu = []model.Archetype{
		model.ArchetypeNumber,
		model.ArchetypeMeaning,
		model.ArchetypeAdhigaram,
	}
)

type template struct {
	field  Field
	prompt string
}

var templates = map[model.Archetype]template{
	model.ArchetypeMeaning:       {FieldVilakam, "What is the correct meaning of this Thirukkural?"},
	model.ArchetypeAdhigaram:     {FieldAdhigaram, "This Thirukkural belongs to which Adhigaram?"},
	model.ArchetypePaal:          {FieldPaal, "This Thirukkural belongs to which Paal?"},
	model.ArchetypeIyal:          {FieldIyal, "This Thirukkural belongs to which Iyal?"},
	model.ArchetypeCouplet:       {FieldCouplet, "What is the English Couplet for this Thirukkural?"},
	model.ArchetypeKalaingarUrai: {FieldKalaingarUrai, "What is Kalaingar's Urai for this Thirukkural?"},
	model.ArchetypeWordContext:   {FieldVilakam, "What is the contextual role or related phrase for the word '%s' in this Thirukkural? (Based on Vilakam)"},
	model.ArchetypeNumber:        {FieldNumber, "What is the number of this Thirukkural?"},
}

// ParseArchetype validates an archetype name. The empty string means "any".
func ParseArchetype(s string) (model.Archetype, error) {
	a := model.Archetype(s)
	if a == "" {
		return a, nil
	}
	if _, ok := templates[a]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownArchetype, s)
	}
	return a, nil
}

// ArchetypeField returns the record field an archetype asks about.
func ArchetypeField(a model.Archetype) (Field, bool) {
	t, ok := templates[a]
	return t.field, ok
}

// Generator turns a record into a multiple-choice question.
// It is safe for concurrent use if its strategy is.
type Generator struct {
	strategy DistractorStrategy
	rng      *lockedRand
	k        int
	menu     []model.Archetype
}

type Option func(*Generator)

// WithRand sets the source used to pick archetypes, words and option order.
func WithRand(r *rand.Rand) Option {
	return func(g *Generator) { g.rng = newLockedRand(r) }
}

// WithDistractors sets the number of wrong options per question.
func WithDistractors(k int) Option {
	return func(g *Generator) { g.k = k }
}

// WithMenu replaces the archetypes chosen from when none is requested.
func WithMenu(menu []model.Archetype) Option {
	return func(g *Generator) { g.menu = cloneMenu(menu) }
}

// NewGenerator builds a generator around strategy. The archetype menu
// defaults to the one matching the strategy.
func NewGenerator(strategy DistractorStrategy, opts ...Option) *Generator {
	g := &Generator{strategy: strategy, k: DefaultDistractors}
	if strategy.Name() == StrategySemantic {
		g.menu = cloneMenu(SemanticMenu)
	} else {
		g.menu = cloneMenu(RandomMenu)
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = newLockedRand(nil)
	}
	return g
}

func (g *Generator) Strategy() DistractorStrategy { return g.strategy }

func (g *Generator) Menu() []model.Archetype { return cloneMenu(g.menu) }

// Generate builds a question about rec using records as the distractor pool.
// With an empty archetype one is drawn from the menu, moving on to the
// others when a draw cannot produce a question. A requested archetype is
// tried alone.
func (g *Generator) Generate(ctx context.Context, records []model.Record, rec model.Record, archetype model.Archetype) (model.Question, error) {
	if archetype != "" {
		if _, ok := templates[archetype]; !ok {
			return model.Question{}, fmt.Errorf("%w: %q", ErrUnknownArchetype, archetype)
		}
		return g.build(ctx, records, rec, archetype)
	}

	for _, i := range g.rng.Perm(len(g.menu)) {
		a := g.menu[i]
		q, err := g.build(ctx, records, rec, a)
		if err == nil {
			return q, nil
		}
		if !errors.Is(err, ErrNoValidQuestion) {
			return model.Question{}, err
		}
		slog.Debug("archetype skipped", "archetype", a, "kural", rec.Number, "error", err)
	}
	return model.Question{}, fmt.Errorf("kural %d: %w", rec.Number, ErrNoValidQuestion)
}

func (g *Generator) build(ctx context.Context, records []model.Record, rec model.Record, a model.Archetype) (model.Question, error) {
	t, ok := templates[a]
	if !ok {
		return model.Question{}, fmt.Errorf("%w: %q", ErrUnknownArchetype, a)
	}
	correct, err := t.field.Value(rec)
	if err != nil {
		return model.Question{}, err
	}
	if strings.TrimSpace(correct) == "" {
		return model.Question{}, fmt.Errorf("%s: empty %s: %w", a, t.field, ErrNoValidQuestion)
	}

	prompt := t.prompt
	var word string
	if a == model.ArchetypeWordContext {
		word = g.pickWord(rec.Kural)
		if word == "" {
			return model.Question{}, fmt.Errorf("%s: no word in couplet: %w", a, ErrNoValidQuestion)
		}
		prompt = fmt.Sprintf(t.prompt, word)
	}

	distractors, err := g.strategy.Sample(ctx, records, t.field, correct, g.k)
	if err != nil {
		return model.Question{}, fmt.Errorf("sample %s distractors: %w", t.field, err)
	}
	if len(distractors) == 0 {
		return model.Question{}, fmt.Errorf("%s: no distractors: %w", a, ErrNoValidQuestion)
	}

	options := make([]string, 0, len(distractors)+1)
	options = append(options, distractors...)
	options = append(options, correct)
	g.rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})

	return model.Question{
		Archetype:    a,
		Prompt:       prompt,
		Word:         word,
		Kural:        rec.Kural,
		RecordNumber: rec.Number,
		Options:      options,
		Correct:      correct,
	}, nil
}

// pickWord returns a random word of the couplet with surrounding punctuation removed.
func (g *Generator) pickWord(kural string) string {
	var words []string
	for _, w := range strings.Fields(model.ReplaceLineBreaks(kural, " ")) {
		w = strings.TrimFunc(w, func(r rune) bool {
			return unicode.IsPunct(r) || unicode.IsSymbol(r)
		})
		if w != "" {
			words = append(words, w)
		}
	}
	if len(words) == 0 {
		return ""
	}
	return words[g.rng.IntN(len(words))]
}

func cloneMenu(menu []model.Archetype) []model.Archetype {
	return append([]model.Archetype(nil), menu...)
}
