package assembler

import (
	"bytes"
	"encoding/json"
)

type Section struct {
	Label string
	Items []string
}

// Bundle is the labelled retrieval context of one request. Sections keep
// canonical intent order and empty sections are never present.
type Bundle struct {
	Sections []Section
}

func (b Bundle) Empty() bool { return len(b.Sections) == 0 }

func (b Bundle) Section(label string) (Section, bool) {
	for _, s := range b.Sections {
		if s.Label == label {
			return s, true
		}
	}
	return Section{}, false
}

func (b Bundle) Labels() []string {
	out := make([]string, len(b.Sections))
	for i, s := range b.Sections {
		out[i] = s.Label
	}
	return out
}

// MarshalJSON renders an object whose keys follow section order.
func (b Bundle) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, s := range b.Sections {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(s.Label)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(s.Items)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Debug is the serialised bundle returned to callers as contextDebug.
func (b Bundle) Debug() string {
	out, err := b.MarshalJSON()
	if err != nil {
		return "{}"
	}
	return string(out)
}
