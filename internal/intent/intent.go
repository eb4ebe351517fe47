package intent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Intent is a closed set; declaration order is the canonical order.
type Intent uint8

const (
	Product Intent = iota
	Company
	Support
	General

	numIntents
)

var names = [numIntents]string{
	Product: "product",
	Company: "company",
	Support: "support",
	General: "general",
}

func All() []Intent {
	out := make([]Intent, 0, numIntents)
	for i := Intent(0); i < numIntents; i++ {
		out = append(out, i)
	}
	return out
}

func (i Intent) String() string {
	if i >= numIntents {
		return fmt.Sprintf("intent(%d)", uint8(i))
	}
	return names[i]
}

func Parse(s string) (Intent, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i := Intent(0); i < numIntents; i++ {
		if names[i] == s {
			return i, true
		}
	}
	return 0, false
}

// Set is an unordered set of intents; iteration follows canonical order.
type Set struct {
	bits uint8
}

func NewSet(intents ...Intent) Set {
	var s Set
	for _, i := range intents {
		s = s.With(i)
	}
	return s
}

func (s Set) With(i Intent) Set {
	if i >= numIntents {
		return s
	}
	s.bits |= 1 << i
	return s
}

func (s Set) Has(i Intent) bool { return i < numIntents && s.bits&(1<<i) != 0 }
func (s Set) Empty() bool       { return s.bits == 0 }

func (s Set) Len() int {
	n := 0
	for b := s.bits; b != 0; b &= b - 1 {
		n++
	}
	return n
}

func (s Set) Intersect(o Set) Set  { return Set{bits: s.bits & o.bits} }
func (s Set) Difference(o Set) Set { return Set{bits: s.bits &^ o.bits} }

func (s Set) Intents() []Intent {
	out := make([]Intent, 0, s.Len())
	for i := Intent(0); i < numIntents; i++ {
		if s.Has(i) {
			out = append(out, i)
		}
	}
	return out
}

func (s Set) Strings() []string {
	in := s.Intents()
	out := make([]string, len(in))
	for k, i := range in {
		out[k] = i.String()
	}
	return out
}

func (s Set) String() string { return "{" + strings.Join(s.Strings(), ",") + "}" }

func (s Set) MarshalJSON() ([]byte, error) { return json.Marshal(s.Strings()) }

// ParseSet rejects unknown names.
func ParseSet(tags []string) (Set, error) {
	var s Set
	for _, t := range tags {
		i, ok := Parse(t)
		if !ok {
			return Set{}, fmt.Errorf("unknown intent %q", t)
		}
		s = s.With(i)
	}
	return s, nil
}

// Vocabulary is the enabled subset of intents plus the fallback set.
type Vocabulary struct {
	Enabled  Set
	Defaults Set
}

func NewVocabulary(enabled, defaults []string) (Vocabulary, error) {
	en, err := ParseSet(enabled)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("intent vocabulary: %w", err)
	}
	def, err := ParseSet(defaults)
	if err != nil {
		return Vocabulary{}, fmt.Errorf("default intents: %w", err)
	}
	if en.Empty() {
		return Vocabulary{}, fmt.Errorf("intent vocabulary is empty")
	}
	if def.Empty() {
		return Vocabulary{}, fmt.Errorf("default intent set is empty")
	}
	if extra := def.Difference(en); !extra.Empty() {
		return Vocabulary{}, fmt.Errorf("default intents %s are not in the vocabulary %s", extra, en)
	}
	return Vocabulary{Enabled: en, Defaults: def}, nil
}

func DefaultVocabulary() Vocabulary {
	return Vocabulary{Enabled: NewSet(All()...), Defaults: NewSet(General)}
}
