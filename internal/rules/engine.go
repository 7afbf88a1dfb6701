package rules

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

const defaultLoopLimit = 30

// ErrNotConverged is returned when rules keep rewriting each other past the
// loop limit.
var ErrNotConverged = errors.New("transcript rules did not converge")

type compiledRule interface {
	Apply(input string) (output string, changed bool)
}

// RuleParser parses one line into a compiled rule.
type RuleParser interface {
	CanParse(line string) bool
	Parse(line string) (compiledRule, error)
}

// Options selects where rules come from.
type Options struct {
	// Path is a rules file. A missing file yields no rules.
	Path string
	// Lines are extra rules in file syntax, applied after the file.
	Lines []string
	// WakeWord and WakeAliases add whole-word rules that map commonly
	// misheard variants onto the wake word.
	WakeWord    string
	WakeAliases []string
	LoopLimit   int
	Parsers     []RuleParser
}

// Engine rewrites transcripts with deterministic substitutions before they
// are classified.
type Engine struct {
	rules     []compiledRule
	loopLimit int
}

// NewEngine loads and compiles rules from a file using built-in parsers.
func NewEngine(path string, loopLimit int) (*Engine, error) {
	return NewEngineWithOptions(Options{Path: path, LoopLimit: loopLimit})
}

// NewEngineWithOptions compiles rules from every configured source.
func NewEngineWithOptions(opts Options) (*Engine, error) {
	if opts.LoopLimit <= 0 {
		opts.LoopLimit = defaultLoopLimit
	}
	if len(opts.Parsers) == 0 {
		opts.Parsers = defaultRuleParsers()
	}

	var compiled []compiledRule

	fileRules, err := loadRulesFile(opts.Path, opts.Parsers)
	if err != nil {
		return nil, err
	}
	compiled = append(compiled, fileRules...)

	if len(opts.Lines) > 0 {
		inline, err := parseRules(strings.Join(opts.Lines, "\n"), opts.Parsers)
		if err != nil {
			return nil, fmt.Errorf("failed to parse inline rules: %w", err)
		}
		compiled = append(compiled, inline...)
	}

	aliases, err := wakeAliasRules(opts.WakeWord, opts.WakeAliases)
	if err != nil {
		return nil, err
	}
	compiled = append(compiled, aliases...)

	return &Engine{rules: compiled, loopLimit: opts.LoopLimit}, nil
}

// Len returns the number of compiled rules.
func (e *Engine) Len() int {
	return len(e.rules)
}

// Apply rewrites text until no rule changes it. Rules that never settle
// return the last result together with ErrNotConverged.
func (e *Engine) Apply(text string) (string, error) {
	if len(e.rules) == 0 {
		return text, nil
	}

	result := text
	for i := 0; i < e.loopLimit; i++ {
		changed := false
		for _, rule := range e.rules {
			next, ruleChanged := rule.Apply(result)
			if ruleChanged {
				result = next
				changed = true
			}
		}
		if !changed {
			return result, nil
		}
	}

	return result, fmt.Errorf("%w after %d passes", ErrNotConverged, e.loopLimit)
}

func loadRulesFile(path string, parsers []RuleParser) ([]compiledRule, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	compiled, err := parseRules(string(contents), parsers)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}
	return compiled, nil
}

func wakeAliasRules(wakeWord string, aliases []string) ([]compiledRule, error) {
	wakeWord = strings.TrimSpace(wakeWord)
	if wakeWord == "" {
		return nil, nil
	}

	var compiled []compiledRule
	for _, alias := range aliases {
		alias = strings.TrimSpace(alias)
		if alias == "" || strings.EqualFold(alias, wakeWord) {
			continue
		}
		rule, err := newWordRule(alias, wakeWord)
		if err != nil {
			return nil, fmt.Errorf("wake alias %q: %w", alias, err)
		}
		compiled = append(compiled, rule)
	}
	return compiled, nil
}

func parseRules(contents string, parsers []RuleParser) ([]compiledRule, error) {
	lines := strings.Split(contents, "\n")
	compiled := make([]compiledRule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parsed := false
		for _, parser := range parsers {
			if !parser.CanParse(line) {
				continue
			}
			rule, err := parser.Parse(line)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", index+1, err)
			}
			compiled = append(compiled, rule)
			parsed = true
			break
		}

		if !parsed {
			return nil, fmt.Errorf("line %d: unsupported rule format", index+1)
		}
	}

	return compiled, nil
}
