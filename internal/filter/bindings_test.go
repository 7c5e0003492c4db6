package filter

import (
	"sort"
	"testing"

	"github.com/itchyny/gojq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	customerrors "github.com/cropalato/pkgrepo/pkg/errors"
)

// selectFlat runs a flat rule the way a string-only evaluator binds it.
func selectFlat(t *testing.T, jq string, vars map[string]string, names []string) []string {
	t.Helper()

	query, err := gojq.Parse(jq)
	require.NoError(t, err)

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]interface{}, 0, len(keys))
	for _, k := range keys {
		values = append(values, vars[k])
	}

	code, err := gojq.Compile(query, gojq.WithVariables(keys))
	require.NoError(t, err)

	selected := []string{}
	for _, n := range names {
		v, ok := code.Run(map[string]interface{}{"name": n}, values...).Next()
		require.True(t, ok)
		require.IsType(t, true, v)
		if v.(bool) {
			selected = append(selected, n)
		}
	}
	return selected
}

func TestFlatten(t *testing.T) {
	packages := []string{"nginx", "nginx-ingress", "redis", "wordpress"}

	tests := []struct {
		name     string
		names    string
		regex    bool
		exclude  bool
		wantJQ   string
		wantVars map[string]string
	}{
		{
			name:     "exact",
			names:    "nginx, redis",
			wantJQ:   `.name == $var0 or .name == $var1`,
			wantVars: map[string]string{"$var0": "nginx", "$var1": "redis"},
		},
		{
			name:     "regex",
			names:    "^nginx",
			regex:    true,
			wantJQ:   `(.name | test($var0))`,
			wantVars: map[string]string{"$var0": "^nginx"},
		},
		{
			name:     "exclude",
			names:    "nginx, redis",
			exclude:  true,
			wantJQ:   `(.name == $var0 or .name == $var1) | not`,
			wantVars: map[string]string{"$var0": "nginx", "$var1": "redis"},
		},
		{
			name:     "regex exclude",
			names:    "^nginx, ^word",
			regex:    true,
			exclude:  true,
			wantJQ:   `((.name | test($var0)) or (.name | test($var1))) | not`,
			wantVars: map[string]string{"$var0": "^nginx", "$var1": "^word"},
		},
		{
			name:     "name with jq syntax",
			names:    "a or b",
			wantJQ:   `.name == $var0`,
			wantVars: map[string]string{"$var0": "a or b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := Encode(tt.names, tt.regex, tt.exclude)

			jq, vars, err := Flatten(rule)
			require.NoError(t, err)
			assert.Equal(t, tt.wantJQ, jq)
			assert.Equal(t, tt.wantVars, vars)

			m, err := Compile(rule)
			require.NoError(t, err)
			want, err := m.Select(packages)
			require.NoError(t, err)
			assert.Equal(t, want, selectFlat(t, jq, vars, packages))

			back, err := Unflatten(jq, vars)
			require.NoError(t, err)
			assert.Equal(t, rule, back)
		})
	}
}

func TestFlattenForeignRule(t *testing.T) {
	_, _, err := Flatten(&Rule{JQ: `.name == "nginx"`})
	require.Error(t, err)
	assert.True(t, customerrors.IsFilterError(err))
}

func TestUnflattenErrors(t *testing.T) {
	tests := []struct {
		name string
		jq   string
		vars map[string]string
	}{
		{"Empty", "", nil},
		{"Foreign expression", `.name == "nginx"`, nil},
		{"Mixed terms", `.name == $var0 or (.name | test($var1))`, map[string]string{"$var0": "a", "$var1": "b"}},
		{"Out of order", `.name == $var1 or .name == $var0`, map[string]string{"$var0": "a", "$var1": "b"}},
		{"Missing binding", `.name == $var0 or .name == $var1`, map[string]string{"$var0": "a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unflatten(tt.jq, tt.vars)
			require.Error(t, err)
			assert.True(t, customerrors.IsFilterError(err))
		})
	}
}
