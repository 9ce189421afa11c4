package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"github.com/roach88/huntflow/internal/syntax"
)

const tabWidth = 4

var (
	lineStyle    = color.New(color.FgBlue, color.Bold)
	caretStyle   = color.New(color.FgRed, color.Bold)
	messageStyle = color.New(color.FgRed)
)

// sourceSnippet renders the source line at pos with a caret under the
// column and the message below it:
//
//	3 | sorted = SORT procs BY pi
//	  |                        ^
//	  | attribute "pi" is not defined
//
// An empty string is returned when pos is outside source.
func sourceSnippet(source string, pos syntax.Pos, message string, colored bool) string {
	lines := strings.Split(source, "\n")
	if pos.Line < 1 || pos.Line > len(lines) {
		return ""
	}
	line := strings.ReplaceAll(strings.TrimRight(lines[pos.Line-1], "\r"), "\t", strings.Repeat(" ", tabWidth))

	style := func(c *color.Color, format string, args ...any) string {
		if !colored {
			return fmt.Sprintf(format, args...)
		}
		return c.Sprintf(format, args...)
	}

	number := fmt.Sprintf("%d", pos.Line)
	padding := strings.Repeat(" ", len(number))
	col := visualColumn(lines[pos.Line-1], pos.Col)
	if col > len(line)+1 {
		col = len(line) + 1
	}

	var b strings.Builder
	b.WriteString(style(lineStyle, "%s | ", number))
	b.WriteString(line + "\n")
	b.WriteString(style(lineStyle, "%s | ", padding))
	b.WriteString(strings.Repeat(" ", col-1))
	b.WriteString(style(caretStyle, "^") + "\n")
	b.WriteString(style(lineStyle, "%s | ", padding))
	b.WriteString(style(messageStyle, "%s", message) + "\n")
	return b.String()
}

// visualColumn converts a 1-based rune column to a display column with
// tabs expanded.
func visualColumn(line string, col int) int {
	visual := 1
	for i, r := range []rune(line) {
		if i+1 >= col {
			break
		}
		if r == '\t' {
			visual += tabWidth
		} else {
			visual++
		}
	}
	return visual
}

// colorEnabled reports whether w is a terminal stdout that accepts color.
func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && f == os.Stdout && !color.NoColor
}
