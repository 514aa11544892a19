package token

import (
	"unicode"
)

type Type int

const (
	LParen Type = iota
	RParen
	Ident
	Label // $name: definition
	String
	Number
)

func (t Type) String() string {
	switch t {
	case LParen:
		return "'('"
	case RParen:
		return "')'"
	case Ident:
		return "identifier"
	case Label:
		return "label"
	case String:
		return "string"
	case Number:
		return "number"
	}
	return "unknown"
}

type Token struct {
	Value string
	Type  Type
	Line  int
}

// Tokenize splits assembler source into tokens.
// String tokens keep their escapes; the parser unquotes them.
func Tokenize(input string) []Token {
	var tokens []Token
	line := 1
	runes := []rune(input)

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		if r == '\n' {
			line++
			continue
		}
		if unicode.IsSpace(r) {
			continue
		}

		if r == ';' && i+1 < len(runes) && runes[i+1] == ';' {
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			line++
			continue
		}

		if r == '(' {
			if i+1 < len(runes) && runes[i+1] == ';' {
				depth := 1
				i += 2
				for i < len(runes) && depth > 0 {
					switch {
					case runes[i] == '(' && i+1 < len(runes) && runes[i+1] == ';':
						depth++
						i++
					case runes[i] == ';' && i+1 < len(runes) && runes[i+1] == ')':
						depth--
						i++
					case runes[i] == '\n':
						line++
					}
					i++
				}
				i--
				continue
			}
			tokens = append(tokens, Token{"(", LParen, line})
			continue
		}

		if r == ')' {
			tokens = append(tokens, Token{")", RParen, line})
			continue
		}

		if r == '"' {
			start := i + 1
			i++
			for i < len(runes) && runes[i] != '"' {
				if runes[i] == '\\' {
					i++
				}
				i++
			}
			tokens = append(tokens, Token{string(runes[start:min(i, len(runes))]), String, line})
			continue
		}

		if r == '-' || r == '+' || unicode.IsDigit(r) {
			start := i
			i++
			for i < len(runes) && isNumberRune(runes, i) {
				i++
			}
			typ := Number
			if s := string(runes[start:i]); s == "-inf" || s == "+inf" || s == "-nan" || s == "+nan" {
				typ = Ident
			}
			tokens = append(tokens, Token{string(runes[start:i]), typ, line})
			i--
			continue
		}

		if r == '$' || unicode.IsLetter(r) || r == '_' || r == '.' {
			start := i
			for i < len(runes) && isIdentRune(runes[i]) {
				i++
			}
			if i < len(runes) && runes[i] == ':' && runes[start] == '$' {
				tokens = append(tokens, Token{string(runes[start:i]), Label, line})
				continue
			}
			tokens = append(tokens, Token{string(runes[start:i]), Ident, line})
			i--
			continue
		}
	}

	return tokens
}

func isIdentRune(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_' || c == '.' || c == '$' || c == '-'
}

func isNumberRune(runes []rune, i int) bool {
	c := runes[i]
	switch {
	case unicode.IsDigit(c), c == '.', c == '_', c == 'x', c == 'X':
		return true
	case (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F'):
		return true
	case c == 'i' || c == 'n' || c == 'N':
		// inf, nan
		return true
	case c == '-' || c == '+':
		p := runes[i-1]
		return p == 'e' || p == 'E'
	}
	return false
}
