package expr

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tkNumber tokenKind = iota // 42, 0.8, -3.14
	tkString                  // "hello" 'hello'
	tkIdent                   // variable path, keyword or literal word
	tkOp                      // ==, !=, >, <, >=, <=, &&, ||, !
	tkLParen                  // (
	tkRParen                  // )
)

type token struct {
	kind  tokenKind
	value string
	pos   int
}

// 关键字运算符，按标识符词法读取后再识别。
var wordOps = map[string]string{
	"contains":   "contains",
	"in":         "in",
	"startsWith": "startsWith",
	"endsWith":   "endsWith",
	"and":        "&&",
	"or":         "||",
	"not":        "!",
}

func tokenize(src string) ([]token, error) {
	var tokens []token
	runes := []rune(src)
	i := 0

	for i < len(runes) {
		ch := runes[i]

		if unicode.IsSpace(ch) {
			i++
			continue
		}

		switch ch {
		case '(':
			tokens = append(tokens, token{tkLParen, "(", i})
			i++
			continue
		case ')':
			tokens = append(tokens, token{tkRParen, ")", i})
			i++
			continue
		case '"', '\'':
			s, n, err := readString(runes, i, ch)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s, i})
			i = n
			continue
		}

		if i+1 < len(runes) {
			two := string(runes[i : i+2])
			switch two {
			case "==", "!=", ">=", "<=", "&&", "||":
				tokens = append(tokens, token{tkOp, two, i})
				i += 2
				continue
			}
		}

		if ch == '>' || ch == '<' || ch == '!' {
			tokens = append(tokens, token{tkOp, string(ch), i})
			i++
			continue
		}

		// '-' 只有出现在表达式开头或运算符/左括号之后才视为负号
		if isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && isNumberStart(tokens)) {
			num, n := readNumber(runes, i)
			tokens = append(tokens, token{tkNumber, num, i})
			i = n
			continue
		}

		if isIdentStart(ch) {
			ident, n := readIdent(runes, i)
			if op, ok := wordOps[ident]; ok {
				tokens = append(tokens, token{tkOp, op, i})
			} else {
				tokens = append(tokens, token{tkIdent, ident, i})
			}
			i = n
			continue
		}

		return nil, &SyntaxError{Pos: i, Msg: fmt.Sprintf("unexpected character %q", string(ch))}
	}

	return tokens, nil
}

func readString(runes []rune, start int, quote rune) (string, int, error) {
	i := start + 1
	var sb strings.Builder
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			sb.WriteRune(runes[i+1])
			i += 2
			continue
		}
		if runes[i] == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, &SyntaxError{Pos: start, Msg: "unterminated string"}
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	if i < len(runes) && runes[i] == '-' {
		i++
	}
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	return string(runes[start:i]), i
}

func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.' || ch == '-'
}

func isNumberStart(preceding []token) bool {
	if len(preceding) == 0 {
		return true
	}
	last := preceding[len(preceding)-1]
	return last.kind == tkOp || last.kind == tkLParen
}
