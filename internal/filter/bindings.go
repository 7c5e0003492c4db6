package filter

import (
	"fmt"
	"strings"

	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

// Flat rules bind one string per variable, $var0, $var1, ..., for evaluators
// that only accept string variables.
const (
	flatVariable = "$var%d"
	flatExact    = ".name == $var%d"
	flatRegex    = "(.name | test($var%d))"
	flatJoin     = " or "
)

// Flatten rewrites a rule built by Encode into one string variable per name.
// Rules of any other shape are rejected.
func Flatten(rule *Rule) (string, map[string]string, error) {
	params, err := Parse(rule)
	if err != nil {
		return "", nil, err
	}

	term := flatExact
	if params.Regex {
		term = flatRegex
	}

	terms := make([]string, 0, len(params.Names))
	vars := make(map[string]string, len(params.Names))
	for i, name := range params.Names {
		terms = append(terms, fmt.Sprintf(term, i))
		vars[fmt.Sprintf(flatVariable, i)] = name
	}

	expr := strings.Join(terms, flatJoin)
	if params.Exclude {
		expr = fmt.Sprintf(negatedFormat, expr)
	}
	return expr, vars, nil
}

// Unflatten recognizes a rule written by Flatten and returns it in the form
// built by Encode.
func Unflatten(jq string, vars map[string]string) (*Rule, error) {
	expr, exclude := unwrapNegation(strings.TrimSpace(jq))
	if expr == "" {
		return nil, customerrors.NewFilterError(jq, customerrors.New("empty expression"))
	}

	terms := strings.Split(expr, flatJoin)
	regex := strings.HasPrefix(terms[0], "(")
	term := flatExact
	if regex {
		term = flatRegex
	}

	names := make([]string, 0, len(terms))
	for i, t := range terms {
		if strings.TrimSpace(t) != fmt.Sprintf(term, i) {
			return nil, customerrors.NewFilterError(jq, customerrors.New("unrecognized expression"))
		}
		name, ok := vars[fmt.Sprintf(flatVariable, i)]
		if !ok {
			return nil, customerrors.NewFilterError(jq, fmt.Errorf("missing $var%d binding", i))
		}
		names = append(names, name)
	}

	return newRule(names, regex, exclude), nil
}
