package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ParseError locates a bad line in a rules file.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

var errUnsupportedRule = errors.New("unsupported rule format")

// parseRules splits a rules file into rewrite rules and finishing
// directives. Blank lines and lines starting with '#' are skipped.
func parseRules(contents string, parsers []RuleParser) ([]compiledRule, []compiledRule, error) {
	var rules, finish []compiledRule

	for index, raw := range strings.Split(contents, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fail := func(err error) error {
			return &ParseError{Line: index + 1, Text: line, Err: err}
		}

		if looksLikeDirective(line) {
			expanded, finishing, err := parseDirective(line)
			if err != nil {
				return nil, nil, fail(err)
			}
			rules = append(rules, expanded...)
			finish = append(finish, finishing...)
			continue
		}

		rule, err := parseWith(parsers, line)
		if err != nil {
			return nil, nil, fail(err)
		}
		rules = append(rules, rule)
	}

	return rules, finish, nil
}

// parseWith hands line to the first parser that claims it.
func parseWith(parsers []RuleParser, line string) (compiledRule, error) {
	for _, parser := range parsers {
		if parser.CanParse(line) {
			return parser.Parse(line)
		}
	}
	return nil, errUnsupportedRule
}

func defaultRuleParsers() []RuleParser {
	return []RuleParser{sedRuleParser{}, literalRuleParser{}}
}

// literalRuleParser reads "spoken => written". Matching is case
// insensitive and respects word edges.
type literalRuleParser struct{}

func (literalRuleParser) CanParse(line string) bool {
	return strings.Contains(line, "=>")
}

func (literalRuleParser) Parse(line string) (compiledRule, error) {
	from, to, _ := strings.Cut(line, "=>")
	return newLiteralRule(strings.TrimSpace(from), strings.TrimSpace(to))
}

// newLiteralRule replaces from with to verbatim.
func newLiteralRule(from, to string) (literalRule, error) {
	if from == "" {
		return literalRule{}, errors.New("literal rule source cannot be empty")
	}

	pattern := "(?i)" + wordBoundary(from[0]) + regexp.QuoteMeta(from) + wordBoundary(from[len(from)-1])
	re, err := regexp.Compile(pattern)
	if err != nil {
		return literalRule{}, fmt.Errorf("invalid literal source: %w", err)
	}
	return literalRule{re: re, replacement: to}, nil
}

type literalRule struct {
	re          *regexp.Regexp
	replacement string
}

func (r literalRule) Apply(input string) (string, bool) {
	output := r.re.ReplaceAllLiteralString(input, r.replacement)
	return output, output != input
}

// sedRuleParser reads "s/pattern/replacement/flags" with any
// non-alphanumeric delimiter.
type sedRuleParser struct{}

func (sedRuleParser) CanParse(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isAlphaNumericOrSpace(line[1])
}

func (sedRuleParser) Parse(line string) (compiledRule, error) {
	delim := line[1]

	pattern, pos, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := readDelimited(line, pos, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}
	flags, err := parseRegexFlags(line[pos:])
	if err != nil {
		return nil, err
	}

	re, err := regexp.Compile(flags.prefix() + pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	replacement = strings.ReplaceAll(replacement, `\`+string(delim), string(delim))
	return regexRule{re: re, replacement: sedBackrefs(replacement), global: flags.global}, nil
}

// regexFlags are the trailing sed flags. Matching is case insensitive
// unless told otherwise by 'I'.
type regexFlags struct {
	caseSensitive bool
	global        bool
	multiLine     bool
	dotAll        bool
}

func parseRegexFlags(raw string) (regexFlags, error) {
	var f regexFlags
	for _, flag := range strings.TrimSpace(raw) {
		switch flag {
		case 'i':
			f.caseSensitive = false
		case 'I':
			f.caseSensitive = true
		case 'g':
			f.global = true
		case 'm':
			f.multiLine = true
		case 's':
			f.dotAll = true
		case ' ':
		default:
			return regexFlags{}, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}
	return f, nil
}

func (f regexFlags) prefix() string {
	var b strings.Builder
	if !f.caseSensitive {
		b.WriteByte('i')
	}
	if f.multiLine {
		b.WriteByte('m')
	}
	if f.dotAll {
		b.WriteByte('s')
	}
	if b.Len() == 0 {
		return ""
	}
	return "(?" + b.String() + ")"
}

var sedBackref = regexp.MustCompile(`\\([0-9])`)

// sedBackrefs rewrites \1 style references into Go's ${1}.
func sedBackrefs(replacement string) string {
	return sedBackref.ReplaceAllString(replacement, `$${$1}`)
}

type regexRule struct {
	re          *regexp.Regexp
	replacement string
	global      bool
}

func (r regexRule) Apply(input string) (string, bool) {
	if r.global {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	match := r.re.FindStringSubmatchIndex(input)
	if match == nil {
		return input, false
	}
	replaced := r.re.ExpandString(nil, r.replacement, input, match)
	output := input[:match[0]] + string(replaced) + input[match[1]:]
	return output, output != input
}

// readDelimited reads up to the next unescaped delim starting at start
// and returns the text plus the index after the delimiter. Escapes are
// kept so the regexp compiler sees them.
func readDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var b strings.Builder
	for i := start; i < len(line); i++ {
		switch c := line[i]; {
		case c == '\\' && i+1 < len(line):
			b.WriteByte(c)
			b.WriteByte(line[i+1])
			i++
		case c == delim:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, errors.New("unterminated expression")
}

func isAlphaNumericOrSpace(char byte) bool {
	return isWordByte(char) && char != '_' || char == ' ' || char == '\t'
}

// wordBoundary anchors a literal at an edge that is a word character,
// so "comma" does not rewrite "commander".
func wordBoundary(edge byte) string {
	if isWordByte(edge) {
		return `\b`
	}
	return ""
}

func isWordByte(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == '_'
}
