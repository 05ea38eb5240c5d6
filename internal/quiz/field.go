// Package quiz builds multiple-choice questions about corpus records and
// samples the wrong options shown beside the correct one.
package quiz

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"

	"github.com/pavelanni/kuralquiz/internal/model"
)

var ErrUnknownField = errors.New("unknown field")

// Field names a record attribute that questions and distractors draw on.
type Field string

const (
	FieldNumber        Field = "number"
	FieldKural         Field = "kural"
	FieldCouplet       Field = "couplet"
	FieldVilakam       Field = "vilakam"
	FieldKalaingarUrai Field = "kalaingar_urai"
	FieldPaal          Field = "paal"
	FieldIyal          Field = "iyal"
	FieldAdhigaram     Field = "adhigaram"
)

// Fields lists every field in record order.
var Fields = []Field{
	FieldNumber, FieldKural, FieldCouplet, FieldVilakam,
	FieldKalaingarUrai, FieldPaal, FieldIyal, FieldAdhigaram,
}

// ParseField converts a field name into a Field.
func ParseField(s string) (Field, error) {
	for _, f := range Fields {
		if string(f) == s {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// Value returns the field's text in r.
func (f Field) Value(r model.Record) (string, error) {
	switch f {
	case FieldNumber:
		return r.NumberText(), nil
	case FieldKural:
		return r.Kural, nil
	case FieldCouplet:
		return r.Couplet, nil
	case FieldVilakam:
		return r.Vilakam, nil
	case FieldKalaingarUrai:
		return r.KalaingarUrai, nil
	case FieldPaal:
		return r.Paal, nil
	case FieldIyal:
		return r.Iyal, nil
	case FieldAdhigaram:
		return r.Adhigaram, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownField, string(f))
	}
}

// lockedRand serializes access to a *rand.Rand, which is not safe for
// concurrent use.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(r *rand.Rand) *lockedRand {
	if r == nil {
		r = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &lockedRand{r: r}
}

func (l *lockedRand) IntN(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.IntN(n)
}

func (l *lockedRand) Perm(n int) []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Perm(n)
}

func (l *lockedRand) Shuffle(n int, swap func(i, j int)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.r.Shuffle(n, swap)
}
