package types

// Tri is a three-valued verdict. Confidence-gated checks cannot collapse
// "we don't know" into a boolean, so insufficient is a first-class value
// distinct from both true and false.
type Tri int

// Tri values.
const (
	TriInsufficient Tri = iota
	TriFalse
	TriTrue
)

// String returns the wire form of the verdict.
func (t Tri) String() string {
	switch t {
	case TriTrue:
		return "true"
	case TriFalse:
		return "false"
	default:
		return "insufficient"
	}
}

// IsTrue reports a definite positive verdict. An insufficient verdict is
// neither true nor false.
func (t Tri) IsTrue() bool { return t == TriTrue }

// IsFalse reports a definite negative verdict.
func (t Tri) IsFalse() bool { return t == TriFalse }

// Definite reports whether the verdict carries information at all.
func (t Tri) Definite() bool { return t == TriTrue || t == TriFalse }

// TriOf converts a boolean into a definite verdict.
func TriOf(b bool) Tri {
	if b {
		return TriTrue
	}
	return TriFalse
}
