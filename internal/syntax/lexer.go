package syntax

import (
	"encoding/json"
	"fmt"
	"strings"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokNumber
	tokString

	tokEq     // =
	tokEqEq   // ==
	tokBangEq // !=
	tokGt     // >
	tokLt     // <
	tokGtEq   // >=
	tokLtEq   // <=

	tokLParen   // (
	tokRParen   // )
	tokLBracket // [
	tokRBracket // ]
	tokComma    // ,
	tokPlus     // +

	tokIllegal
)

var tokenNames = map[tokenKind]string{
	tokEOF:      "end of input",
	tokIdent:    "identifier",
	tokNumber:   "number",
	tokString:   "string",
	tokEq:       "'='",
	tokEqEq:     "'=='",
	tokBangEq:   "'!='",
	tokGt:       "'>'",
	tokLt:       "'<'",
	tokGtEq:     "'>='",
	tokLtEq:     "'<='",
	tokLParen:   "'('",
	tokRParen:   "')'",
	tokLBracket: "'['",
	tokRBracket: "']'",
	tokComma:    "','",
	tokPlus:     "'+'",
	tokIllegal:  "illegal character",
}

func (k tokenKind) String() string {
	return tokenNames[k]
}

// token is a default-mode token. For strings, value holds the unescaped text.
type token struct {
	kind  tokenKind
	text  string
	value string
	pos   Pos
}

func (t token) describe() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return "string " + t.text
	default:
		return fmt.Sprintf("%q", t.text)
	}
}

// scanner reads huntflow source. The parser drives it: default-mode tokens
// come from next, and context-specific terminals (entity types, attribute
// paths, locators, timestamps, JSON literals) have their own scan methods.
type scanner struct {
	source string
	pos    int
	line   int
	col    int
}

func newScanner(source string) *scanner {
	return &scanner{source: source, line: 1, col: 1}
}

func (s *scanner) here() Pos {
	return Pos{Offset: s.pos, Line: s.line, Col: s.col}
}

func (s *scanner) reset(p Pos) {
	s.pos, s.line, s.col = p.Offset, p.Line, p.Col
}

func (s *scanner) atEnd() bool {
	return s.pos >= len(s.source)
}

func (s *scanner) peek() byte {
	if s.atEnd() {
		return 0
	}
	return s.source[s.pos]
}

func (s *scanner) peekAt(offset int) byte {
	p := s.pos + offset
	if p >= len(s.source) {
		return 0
	}
	return s.source[p]
}

func (s *scanner) advance() byte {
	ch := s.source[s.pos]
	s.pos++
	if ch == '\n' {
		s.line++
		s.col = 1
	} else {
		s.col++
	}
	return ch
}

func (s *scanner) skipWhitespaceAndComments() {
	for !s.atEnd() {
		ch := s.peek()
		if ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n' {
			s.advance()
		} else if ch == '#' {
			for !s.atEnd() && s.peek() != '\n' {
				s.advance()
			}
		} else {
			break
		}
	}
}

func isAlpha(ch byte) bool {
	return (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z') || ch == '_'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}

func isAlphaNumeric(ch byte) bool {
	return isAlpha(ch) || isDigit(ch)
}

// isPathChar reports characters allowed in an unquoted attribute segment.
func isPathChar(ch byte) bool {
	return isAlphaNumeric(ch) || ch == '-'
}

// isBareChar reports characters allowed in an unquoted comparison value.
func isBareChar(ch byte) bool {
	return isAlphaNumeric(ch) || ch == '-' || ch == '.' || ch == ':' || ch == '/' || ch == '\\' || ch == '%' || ch == '*' || ch == '@' || ch == '$'
}

func isSpace(ch byte) bool {
	return ch == ' ' || ch == '\t' || ch == '\r' || ch == '\n'
}

// next scans one default-mode token.
func (s *scanner) next() (token, error) {
	s.skipWhitespaceAndComments()
	start := s.here()
	if s.atEnd() {
		return token{kind: tokEOF, pos: start}, nil
	}

	ch := s.peek()
	switch {
	case isAlpha(ch):
		for !s.atEnd() && isAlphaNumeric(s.peek()) {
			s.advance()
		}
		return s.tok(tokIdent, start), nil
	case isDigit(ch) || (ch == '-' && isDigit(s.peekAt(1))):
		s.scanNumber()
		return s.tok(tokNumber, start), nil
	case ch == '\'' || ch == '"':
		val, err := s.scanString()
		if err != nil {
			return token{}, err
		}
		t := s.tok(tokString, start)
		t.value = val
		return t, nil
	}

	s.advance()
	switch ch {
	case '=':
		if s.peek() == '=' {
			s.advance()
			return s.tok(tokEqEq, start), nil
		}
		return s.tok(tokEq, start), nil
	case '!':
		if s.peek() == '=' {
			s.advance()
			return s.tok(tokBangEq, start), nil
		}
	case '>':
		if s.peek() == '=' {
			s.advance()
			return s.tok(tokGtEq, start), nil
		}
		return s.tok(tokGt, start), nil
	case '<':
		if s.peek() == '=' {
			s.advance()
			return s.tok(tokLtEq, start), nil
		}
		return s.tok(tokLt, start), nil
	case '(':
		return s.tok(tokLParen, start), nil
	case ')':
		return s.tok(tokRParen, start), nil
	case '[':
		return s.tok(tokLBracket, start), nil
	case ']':
		return s.tok(tokRBracket, start), nil
	case ',':
		return s.tok(tokComma, start), nil
	case '+':
		return s.tok(tokPlus, start), nil
	}
	return s.tok(tokIllegal, start), nil
}

func (s *scanner) tok(kind tokenKind, start Pos) token {
	return token{kind: kind, text: s.source[start.Offset:s.pos], pos: start}
}

func (s *scanner) scanNumber() {
	if s.peek() == '-' {
		s.advance()
	}
	for isDigit(s.peek()) {
		s.advance()
	}
	if s.peek() == '.' && isDigit(s.peekAt(1)) {
		s.advance()
		for isDigit(s.peek()) {
			s.advance()
		}
	}
	if s.peek() == 'e' || s.peek() == 'E' {
		mark := s.here()
		s.advance()
		if s.peek() == '+' || s.peek() == '-' {
			s.advance()
		}
		if !isDigit(s.peek()) {
			// Not an exponent; leave "e" for the next token.
			s.reset(mark)
			return
		}
		for isDigit(s.peek()) {
			s.advance()
		}
	}
}

// scanString reads a single- or double-quoted string. Recognized escapes are
// \n \t \r \\ \' \"; any other backslash sequence is kept verbatim so regular
// expressions survive unchanged.
func (s *scanner) scanString() (string, error) {
	start := s.here()
	quote := s.advance()
	var b strings.Builder
	for {
		if s.atEnd() {
			return "", &SyntaxError{Pos: start, Message: "unterminated string"}
		}
		ch := s.advance()
		if ch == quote {
			return b.String(), nil
		}
		if ch != '\\' {
			b.WriteByte(ch)
			continue
		}
		if s.atEnd() {
			return "", &SyntaxError{Pos: start, Message: "unterminated string"}
		}
		esc := s.advance()
		switch esc {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '\\', '\'', '"':
			b.WriteByte(esc)
		default:
			b.WriteByte('\\')
			b.WriteByte(esc)
		}
	}
}

// scanEntityType reads an entity type name such as network-traffic.
func (s *scanner) scanEntityType() (string, error) {
	s.skipWhitespaceAndComments()
	start := s.here()
	if !isAlpha(s.peek()) {
		return "", &SyntaxError{Pos: start, Message: "expected entity type"}
	}
	for isPathChar(s.peek()) {
		s.advance()
	}
	return s.source[start.Offset:s.pos], nil
}

// scanAttrPath reads [type:]segment(.segment)*[\[*\]]. Segments are bare or
// quoted. A type qualifier is only accepted when qualified is true.
func (s *scanner) scanAttrPath(qualified bool) (AttrPath, error) {
	s.skipWhitespaceAndComments()
	start := s.here()
	var path AttrPath

	first, err := s.scanSegment()
	if err != nil {
		return path, err
	}
	if s.peek() == ':' && s.peekAt(1) != ':' {
		if !qualified {
			return path, &SyntaxError{Pos: start, Message: "entity type qualifier not allowed here"}
		}
		s.advance()
		path.EntityType = first
		first, err = s.scanSegment()
		if err != nil {
			return path, err
		}
	}
	path.Segments = append(path.Segments, first)

	for s.peek() == '.' {
		s.advance()
		seg, err := s.scanSegment()
		if err != nil {
			return path, err
		}
		path.Segments = append(path.Segments, seg)
	}

	if s.peek() == '[' && s.peekAt(1) == '*' && s.peekAt(2) == ']' {
		s.advance()
		s.advance()
		s.advance()
		path.AnyElement = true
	}
	return path, nil
}

func (s *scanner) scanSegment() (string, error) {
	start := s.here()
	ch := s.peek()
	if ch == '\'' || ch == '"' {
		seg, err := s.scanString()
		if err != nil {
			return "", err
		}
		if seg == "" {
			return "", &SyntaxError{Pos: start, Message: "empty attribute name"}
		}
		return seg, nil
	}
	if !isPathChar(ch) {
		return "", &SyntaxError{Pos: start, Message: "expected attribute name"}
	}
	for isPathChar(s.peek()) {
		s.advance()
	}
	return s.source[start.Offset:s.pos], nil
}

// scanLocator reads a datasource, path or analytics locator: a quoted string
// or a run of non-space characters.
func (s *scanner) scanLocator(what string) (string, error) {
	s.skipWhitespaceAndComments()
	start := s.here()
	if s.peek() == '\'' || s.peek() == '"' {
		v, err := s.scanString()
		if err != nil {
			return "", err
		}
		if v == "" {
			return "", &SyntaxError{Pos: start, Message: "empty " + what}
		}
		return v, nil
	}
	for !s.atEnd() && !isSpace(s.peek()) && s.peek() != '#' {
		s.advance()
	}
	if s.pos == start.Offset {
		return "", &SyntaxError{Pos: start, Message: "expected " + what}
	}
	return s.source[start.Offset:s.pos], nil
}

// scanTimestamp accepts the four timestamp spellings: bare, t'...', '...'
// and "...". It returns the raw timestamp text.
func (s *scanner) scanTimestamp() (string, Pos, error) {
	s.skipWhitespaceAndComments()
	start := s.here()
	if (s.peek() == 't' || s.peek() == 'T') && (s.peekAt(1) == '\'' || s.peekAt(1) == '"') {
		s.advance()
	}
	if s.peek() == '\'' || s.peek() == '"' {
		v, err := s.scanString()
		return v, start, err
	}
	for !s.atEnd() && (isAlphaNumeric(s.peek()) || strings.IndexByte("-:.+", s.peek()) >= 0) {
		s.advance()
	}
	if s.pos == start.Offset {
		return "", start, &SyntaxError{Pos: start, Message: "expected timestamp"}
	}
	return s.source[start.Offset:s.pos], start, nil
}

// scanBare reads an unquoted comparison value such as x.pid or 10.0.0.1.
func (s *scanner) scanBare() (string, error) {
	s.skipWhitespaceAndComments()
	start := s.here()
	for !s.atEnd() && isBareChar(s.peek()) {
		s.advance()
	}
	if s.pos == start.Offset {
		return "", &SyntaxError{Pos: start, Message: "expected value"}
	}
	return s.source[start.Offset:s.pos], nil
}

// scanJSON decodes one JSON value starting at the current position.
func (s *scanner) scanJSON() (any, error) {
	s.skipWhitespaceAndComments()
	start := s.here()
	dec := json.NewDecoder(strings.NewReader(s.source[s.pos:]))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &SyntaxError{Pos: start, Message: "malformed literal: " + err.Error()}
	}
	end := s.pos + int(dec.InputOffset())
	for s.pos < end {
		s.advance()
	}
	return v, nil
}
