// Package evaluator uploads, lists and deletes LangSmith code evaluators.
package evaluator

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// EntryPoint is the function name LangSmith invokes in uploaded code.
const EntryPoint = "perform_eval"

var ErrFunctionNotFound = errors.New("function not found")

// ExtractFunction returns the source of the Python function called name:
// its decorators, signature and indented body. Top-level definitions win
// over nested ones with the same name; a nested one is dedented.
func ExtractFunction(source, name string) (string, error) {
	lines := strings.Split(strings.ReplaceAll(source, "\r\n", "\n"), "\n")
	defLine := regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+` + regexp.QuoteMeta(name) + `\s*\(`)

	start, indent := -1, ""
	for i, line := range lines {
		m := defLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if start < 0 || len(m[1]) < len(indent) {
			start, indent = i, m[1]
		}
		if indent == "" {
			break
		}
	}
	if start < 0 {
		return "", fmt.Errorf("%w: %s", ErrFunctionNotFound, name)
	}

	first := start
	for j := start - 1; j >= 0 && strings.TrimSpace(lines[j]) != ""; j-- {
		line := lines[j]
		if strings.HasPrefix(line, indent+"@") {
			first = j
			continue
		}
		// arguments of a decorator spanning several lines
		if indentWidth(line) > len(indent) || strings.HasPrefix(strings.TrimSpace(line), ")") {
			continue
		}
		break
	}

	end := headerEnd(lines, start)
	quote := ""
	for i := end + 1; i < len(lines); i++ {
		line := lines[i]
		if quote == "" && strings.TrimSpace(line) != "" && indentWidth(line) <= len(indent) {
			break
		}
		quote = trackTripleQuotes(line, quote)
		end = i
	}
	for end > start && isBlankOrComment(lines[end]) {
		end--
	}
	block := lines[first : end+1]
	if indent != "" {
		// a nested definition is moved to column zero so it runs on its own
		block = append([]string(nil), block...)
		for i, line := range block {
			block[i] = strings.TrimPrefix(line, indent)
		}
	}
	return strings.Join(block, "\n") + "\n", nil
}

// headerEnd returns the index of the line closing the def signature, which
// may span several lines.
func headerEnd(lines []string, start int) int {
	depth := 0
	for i := start; i < len(lines); i++ {
		code := stripComment(lines[i])
		depth += strings.Count(code, "(") + strings.Count(code, "[") - strings.Count(code, ")") - strings.Count(code, "]")
		if depth <= 0 && strings.HasSuffix(strings.TrimSpace(code), ":") {
			return i
		}
		if depth <= 0 && strings.Contains(code, ":") && i == start {
			// one-line body: def f(x): return x
			return i
		}
	}
	return start
}

func stripComment(line string) string {
	if idx := strings.Index(line, "#"); idx >= 0 {
		return line[:idx]
	}
	return line
}

func indentWidth(line string) int {
	return len(line) - len(strings.TrimLeft(line, " \t"))
}

func isBlankOrComment(line string) bool {
	trimmed := strings.TrimSpace(line)
	return trimmed == "" || strings.HasPrefix(trimmed, "#")
}

// trackTripleQuotes returns the open triple quote after line, or "" when
// no triple-quoted string is open.
func trackTripleQuotes(line, open string) string {
	for {
		if open != "" {
			idx := strings.Index(line, open)
			if idx < 0 {
				return open
			}
			line, open = line[idx+3:], ""
			continue
		}
		dq, sq := strings.Index(line, `"""`), strings.Index(line, `'''`)
		switch {
		case dq < 0 && sq < 0:
			return ""
		case sq < 0 || (dq >= 0 && dq < sq):
			line, open = line[dq+3:], `"""`
		default:
			line, open = line[sq+3:], `'''`
		}
	}
}

// RenameEntryPoint renames the definition of name to EntryPoint.
func RenameEntryPoint(source, name string) string {
	re := regexp.MustCompile(`\bdef\s+` + regexp.QuoteMeta(name) + `\s*\(`)
	return re.ReplaceAllLiteralString(source, "def "+EntryPoint+"(")
}
