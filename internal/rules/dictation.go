package rules

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// Directives are rules-file lines starting with '@'.
const (
	DirectiveSpokenPunctuation = "@spoken-punctuation"
	DirectiveCapitalize        = "@capitalize"
	DirectiveTidy              = "@tidy"
	DirectiveTrailingSpace     = "@trailing-space"
)

var spokenPunctuation = []struct {
	phrase string
	symbol string
}{
	{"new paragraph", "\n\n"},
	{"new line", "\n"},
	{"question mark", "?"},
	{"exclamation mark", "!"},
	{"exclamation point", "!"},
	{"full stop", "."},
	{"period", "."},
	{"comma", ","},
	{"semicolon", ";"},
	{"colon", ":"},
}

var (
	spaceBeforePunct = regexp.MustCompile(` +([.,?!:;])`)
	spaceAroundBreak = regexp.MustCompile(` *\n *`)
	repeatedSpaces   = regexp.MustCompile(` {2,}`)
)

// funcRule is a finishing step that runs once after rewriting settles.
type funcRule func(string) string

func (f funcRule) Apply(input string) (string, bool) {
	output := f(input)
	return output, output != input
}

func looksLikeDirective(line string) bool {
	return strings.HasPrefix(line, "@")
}

// parseDirective returns rewrite rules and finishing rules for line.
func parseDirective(line string) ([]compiledRule, []compiledRule, error) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case DirectiveSpokenPunctuation:
		rules := make([]compiledRule, 0, len(spokenPunctuation))
		for _, p := range spokenPunctuation {
			rule, err := newLiteralRule(p.phrase, p.symbol)
			if err != nil {
				return nil, nil, err
			}
			rules = append(rules, rule)
		}
		return rules, []compiledRule{funcRule(tidy)}, nil
	case DirectiveTidy:
		return nil, []compiledRule{funcRule(tidy)}, nil
	case DirectiveCapitalize:
		return nil, []compiledRule{funcRule(capitalizeSentences)}, nil
	case DirectiveTrailingSpace:
		return nil, []compiledRule{funcRule(trailingSpace)}, nil
	default:
		return nil, nil, fmt.Errorf("unknown directive %q", line)
	}
}

func tidy(input string) string {
	output := spaceBeforePunct.ReplaceAllString(input, "$1")
	output = spaceAroundBreak.ReplaceAllString(output, "\n")
	output = repeatedSpaces.ReplaceAllString(output, " ")
	return strings.Trim(output, " ")
}

// capitalizeSentences upper-cases the first letter of the text and of
// every sentence or line that follows.
func capitalizeSentences(input string) string {
	runes := []rune(input)
	upper := true
	for i, r := range runes {
		switch {
		case unicode.IsLetter(r):
			if upper {
				runes[i] = unicode.ToUpper(r)
			}
			upper = false
		case r == '.' || r == '?' || r == '!' || r == '\n':
			upper = true
		case unicode.IsSpace(r):
		default:
			upper = false
		}
	}
	return string(runes)
}

func trailingSpace(input string) string {
	if input == "" || strings.HasSuffix(input, " ") || strings.HasSuffix(input, "\n") {
		return input
	}
	return input + " "
}
