package filter

import (
	"fmt"
	"sort"

	"github.com/itchyny/gojq"

	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

// Matcher evaluates a compiled Rule against package names.
type Matcher struct {
	code   *gojq.Code
	values []interface{}
	expr   string
}

// Compile prepares a rule for evaluation. A nil rule matches every package.
func Compile(rule *Rule) (*Matcher, error) {
	if rule == nil || rule.JQ == "" {
		return &Matcher{}, nil
	}

	query, err := gojq.Parse(rule.JQ)
	if err != nil {
		return nil, customerrors.NewFilterError(rule.JQ, err)
	}

	vars := make([]string, 0, len(rule.Variables))
	for k := range rule.Variables {
		vars = append(vars, k)
	}
	sort.Strings(vars)

	values := make([]interface{}, 0, len(vars))
	for _, k := range vars {
		list := make([]interface{}, 0, len(rule.Variables[k]))
		for _, v := range rule.Variables[k] {
			list = append(list, v)
		}
		values = append(values, list)
	}

	code, err := gojq.Compile(query, gojq.WithVariables(vars))
	if err != nil {
		return nil, customerrors.NewFilterError(rule.JQ, err)
	}

	return &Matcher{code: code, values: values, expr: rule.JQ}, nil
}

// Match reports whether a package with the given name passes the rule.
func (m *Matcher) Match(name string) (bool, error) {
	if m == nil || m.code == nil {
		return true, nil
	}

	iter := m.code.Run(map[string]interface{}{"name": name}, m.values...)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}

	switch r := v.(type) {
	case error:
		return false, customerrors.NewFilterError(m.expr, r)
	case bool:
		return r, nil
	case nil:
		return false, nil
	default:
		return false, customerrors.NewFilterError(m.expr, fmt.Errorf("expression returned %T, want bool", v))
	}
}

// Select returns the names accepted by the matcher, keeping their order.
func (m *Matcher) Select(names []string) ([]string, error) {
	selected := make([]string, 0, len(names))
	for _, n := range names {
		ok, err := m.Match(n)
		if err != nil {
			return nil, err
		}
		if ok {
			selected = append(selected, n)
		}
	}
	return selected, nil
}
