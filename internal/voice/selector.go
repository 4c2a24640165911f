package voice

import "strings"

// ReservedToken is the wire form of the reserved quick-test voice.
const ReservedToken = "guest"

type selectorKind int

const (
	kindReserved selectorKind = iota
	kindSaved
)

// Selector names the voice a session works with: either the reserved
// quick-test voice, backed only by the session's held recording, or a
// saved voice in the registry. The zero value is the reserved voice.
type Selector struct {
	kind selectorKind
	id   string
}

// Reserved returns the quick-test selector.
func Reserved() Selector {
	return Selector{kind: kindReserved}
}

// Saved returns a selector for a registry voice.
func Saved(id string) Selector {
	return Selector{kind: kindSaved, id: id}
}

// ParseSelector reads the wire form: empty or ReservedToken is the reserved
// voice, anything else a saved voice id.
func ParseSelector(s string) Selector {
	s = strings.TrimSpace(s)
	if s == "" || s == ReservedToken {
		return Reserved()
	}
	return Saved(s)
}

func (s Selector) IsReserved() bool {
	return s.kind == kindReserved
}

// ID returns the registry id and true for a saved voice.
func (s Selector) ID() (string, bool) {
	if s.kind != kindSaved {
		return "", false
	}
	return s.id, true
}

// String returns the wire form.
func (s Selector) String() string {
	if s.kind == kindReserved {
		return ReservedToken
	}
	return s.id
}
