package syntax

import "fmt"

// SyntaxError is a parse failure at a source position. A huntflow with a
// syntax error never executes.
type SyntaxError struct {
	Pos     Pos
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %s: %s", e.Pos, e.Message)
}

// SemanticError is a well-formed statement that cannot be resolved, such as a
// reference to a variable not bound earlier in program order.
type SemanticError struct {
	Pos      Pos
	Message  string
	Variable string
	// Hint is an optional "did you mean" suggestion.
	Hint string
}

func (e *SemanticError) Error() string {
	msg := fmt.Sprintf("semantic error at %s: %s", e.Pos, e.Message)
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	return msg
}
