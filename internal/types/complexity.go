package types

// Complexity is the coarse category of a request used to select a
// reasoning provider.
type Complexity string

const (
	ComplexityTrivial   Complexity = "trivial"
	ComplexityQuery     Complexity = "query"
	ComplexityReasoning Complexity = "reasoning"
	ComplexityToolUse   Complexity = "tool-use"
)

// Rank returns a numeric rank for comparison. Higher values demand more
// provider capability.
func (c Complexity) Rank() int {
	switch c {
	case ComplexityTrivial:
		return 0
	case ComplexityQuery:
		return 1
	case ComplexityToolUse:
		return 2
	case ComplexityReasoning:
		return 3
	default:
		return -1
	}
}

func ParseComplexity(s string) (Complexity, bool) {
	switch Complexity(s) {
	case ComplexityTrivial, ComplexityQuery, ComplexityReasoning, ComplexityToolUse:
		return Complexity(s), true
	default:
		return "", false
	}
}
