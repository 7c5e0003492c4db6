// Package filter converts between the name list entered by users and the jq
// filter rule stored on helm package repositories.
package filter

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

// NamesVariable is the parameter key holding the name list.
const NamesVariable = "$names"

const (
	exactPredicate = `.name as $n | $names | any(. == $n)`
	regexPredicate = `.name as $n | $names | any(. as $p | $n | test($p))`
	negatedFormat  = `(%s) | not`
)

// Rule is a jq expression over a package plus its variable bindings.
type Rule struct {
	JQ        string              `json:"jq"`
	Variables map[string][]string `json:"variables,omitempty"`
}

// Params is the form-side view of a Rule.
type Params struct {
	Names   []string `json:"names"`
	Regex   bool     `json:"regex"`
	Exclude bool     `json:"exclude"`
}

// NamesCSV renders the names the way they are shown in the form.
func (p Params) NamesCSV() string {
	return strings.Join(p.Names, ", ")
}

// Encode builds a rule from a comma separated list of names or patterns.
// It returns nil when no name is left after trimming.
func Encode(namesCSV string, regex, exclude bool) *Rule {
	names := SplitNames(namesCSV)
	if len(names) == 0 {
		return nil
	}
	return newRule(names, regex, exclude)
}

func newRule(names []string, regex, exclude bool) *Rule {
	expr := exactPredicate
	if regex {
		expr = regexPredicate
	}
	if exclude {
		expr = fmt.Sprintf(negatedFormat, expr)
	}

	return &Rule{
		JQ:        expr,
		Variables: map[string][]string{NamesVariable: names},
	}
}

// SplitNames splits on commas, trims every entry and drops the empty ones.
func SplitNames(csv string) []string {
	names := []string{}
	for _, n := range strings.Split(csv, ",") {
		if n = strings.TrimSpace(n); n != "" {
			names = append(names, n)
		}
	}
	return names
}

// Parse recognizes one of the expressions produced by Encode.
func Parse(rule *Rule) (Params, error) {
	if rule == nil || strings.TrimSpace(rule.JQ) == "" {
		return Params{Names: []string{}}, customerrors.NewFilterError("", customerrors.New("empty expression"))
	}

	expr := strings.TrimSpace(rule.JQ)
	params := Params{Names: []string{}}

	if inner, ok := unwrapNegation(expr); ok {
		params.Exclude = true
		expr = inner
	}

	switch expr {
	case exactPredicate:
	case regexPredicate:
		params.Regex = true
	default:
		return Params{Names: []string{}}, customerrors.NewFilterError(rule.JQ, customerrors.New("unrecognized expression"))
	}

	names, ok := rule.Variables[NamesVariable]
	if !ok || len(names) == 0 {
		return Params{Names: []string{}}, customerrors.NewFilterError(rule.JQ, fmt.Errorf("missing %s binding", NamesVariable))
	}
	params.Names = append(params.Names, names...)

	return params, nil
}

// Decode is the lenient version of Parse used to populate forms: anything it
// cannot read yields the empty Params.
func Decode(rule *Rule, logger *zap.Logger) Params {
	if rule == nil || rule.JQ == "" {
		return Params{Names: []string{}}
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	params, err := Parse(rule)
	if err != nil {
		logger.Warn("ignoring unreadable filter rule",
			zap.String("jq", rule.JQ),
			zap.Error(err))
		return Params{Names: []string{}}
	}
	return params
}

func unwrapNegation(expr string) (string, bool) {
	const suffix = ") | not"
	if !strings.HasPrefix(expr, "(") || !strings.HasSuffix(expr, suffix) {
		return expr, false
	}
	return strings.TrimSpace(expr[1 : len(expr)-len(suffix)]), true
}
