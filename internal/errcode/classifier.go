// Package errcode classifies PLC error codes into operator-facing
// classes using configured regular expressions.
package errcode

import (
	"fmt"
	"regexp"

	"github.com/iwplog/iwplogd/pkg/config"
)

// DefaultClass is recorded on events whose error code matches no
// configured pattern.
const DefaultClass = "unclassified"

type rule struct {
	class    string
	patterns []*regexp.Regexp
}

// Classifier maps raw PLC error codes to classes. Rules are evaluated
// in configuration order; the first class with a matching pattern wins.
type Classifier struct {
	rules []rule
}

// NewClassifier compiles the configured patterns. A nil or empty
// pattern list yields a classifier that answers DefaultClass for every
// code.
func NewClassifier(patterns []config.ErrorClassPattern) (*Classifier, error) {
	c := &Classifier{rules: make([]rule, 0, len(patterns))}
	for _, p := range patterns {
		r := rule{class: p.Class, patterns: make([]*regexp.Regexp, 0, len(p.Patterns))}
		for _, expr := range p.Patterns {
			re, err := regexp.Compile(expr)
			if err != nil {
				return nil, fmt.Errorf("class %q: invalid pattern %q: %w", p.Class, expr, err)
			}
			r.patterns = append(r.patterns, re)
		}
		c.rules = append(c.rules, r)
	}
	return c, nil
}

// Classify returns the class of the first rule with a pattern matching
// code, or DefaultClass when none match.
func (c *Classifier) Classify(code string) string {
	for _, r := range c.rules {
		for _, re := range r.patterns {
			if re.MatchString(code) {
				return r.class
			}
		}
	}
	return DefaultClass
}
