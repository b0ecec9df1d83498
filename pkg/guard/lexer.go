package guard

import (
	"strings"
	"unicode"
)

// statement is the policy input describing one SQL statement.
type statement struct {
	Kind string `json:"kind"`
	// Keywords are bare words in upper case. Function names (a word
	// followed by an opening parenthesis) are excluded.
	Keywords []string `json:"keywords"`
	// Words are every bare word including function names, as written.
	Words      []string `json:"words"`
	Assignment bool     `json:"assignment"`
}

// splitStatements tokenizes sql just enough to tell statements, keywords and
// assignments apart. Comments, string literals and quoted identifiers are
// skipped.
func splitStatements(sql string) []statement {
	var (
		stmts []statement
		cur   statement
		rs    = []rune(sql)
	)

	flush := func() {
		if cur.Kind != "" {
			stmts = append(stmts, cur)
		}
		cur = statement{}
	}

	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case c == '-' && i+1 < len(rs) && rs[i+1] == '-':
			for i < len(rs) && rs[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < len(rs) && rs[i+1] == '*':
			i += 2
			for i+1 < len(rs) && !(rs[i] == '*' && rs[i+1] == '/') {
				i++
			}
			i++

		case c == '\'' || c == '"' || c == '`':
			i = skipQuoted(rs, i, c)

		case c == '[':
			for i < len(rs) && rs[i] != ']' {
				i++
			}

		case c == '$' && i+1 < len(rs) && (rs[i+1] == '$' || isWordStart(rs[i+1])):
			i = skipDollarQuoted(rs, i)

		case c == ';':
			flush()

		case c == '=':
			cur.Assignment = true

		case isWordStart(c):
			start := i
			for i+1 < len(rs) && isWordPart(rs[i+1]) {
				i++
			}
			word := string(rs[start : i+1])
			cur.Words = append(cur.Words, word)
			if cur.Kind == "" {
				cur.Kind = strings.ToLower(word)
			}
			if !followedByParen(rs, i+1) {
				cur.Keywords = append(cur.Keywords, strings.ToUpper(word))
			}
		}
	}
	flush()

	return stmts
}

func isWordStart(c rune) bool {
	return c == '_' || unicode.IsLetter(c)
}

func isWordPart(c rune) bool {
	return c == '_' || c == '$' || unicode.IsLetter(c) || unicode.IsDigit(c)
}

func followedByParen(rs []rune, i int) bool {
	for ; i < len(rs); i++ {
		if !unicode.IsSpace(rs[i]) {
			return rs[i] == '('
		}
	}
	return false
}

// skipQuoted returns the index of the closing quote. A doubled quote is an
// escaped quote.
func skipQuoted(rs []rune, i int, quote rune) int {
	for i++; i < len(rs); i++ {
		if rs[i] != quote {
			continue
		}
		if i+1 < len(rs) && rs[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return i
}

// skipDollarQuoted handles PostgreSQL $tag$...$tag$ bodies. A '$' that does
// not open a tag is left alone.
func skipDollarQuoted(rs []rune, i int) int {
	end := i + 1
	for end < len(rs) && rs[end] != '$' {
		if !isWordPart(rs[end]) {
			return i
		}
		end++
	}
	if end >= len(rs) {
		return i
	}
	tag := string(rs[i : end+1])

	body := string(rs[end+1:])
	idx := strings.Index(body, tag)
	if idx < 0 {
		return len(rs)
	}
	return end + len([]rune(body[:idx])) + len([]rune(tag))
}
