package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func orderEvent(total float64) *Event {
	return &Event{
		ID:       "evt-1",
		Type:     "order.created",
		TenantID: "acme",
		Source:   "orders-api",
		Metadata: map[string]string{"region": "eu", "channel": "web"},
		Payload: map[string]any{
			"total":    total,
			"currency": "EUR",
			"items":    []any{"sku-1", "sku-2"},
			"customer": map[string]any{"name": "Ada", "vip": true},
		},
	}
}

func TestFilter_NilMatchesAll(t *testing.T) {
	var f *Filter
	require.True(t, f.Matches(orderEvent(10)))
}

func TestFilter_Sources(t *testing.T) {
	f := &Filter{Sources: []string{"orders-api", "admin"}}
	require.True(t, f.Matches(orderEvent(10)))

	f = &Filter{Sources: []string{"billing"}}
	require.False(t, f.Matches(orderEvent(10)))
}

func TestFilter_Metadata(t *testing.T) {
	f := &Filter{Metadata: map[string]string{"region": "eu"}}
	require.True(t, f.Matches(orderEvent(10)))

	f = &Filter{Metadata: map[string]string{"region": "us"}}
	require.False(t, f.Matches(orderEvent(10)))

	f = &Filter{Metadata: map[string]string{"missing": "x"}}
	require.False(t, f.Matches(orderEvent(10)))
}

func TestFilter_ConditionGreaterThan(t *testing.T) {
	f := &Filter{Conditions: []Condition{
		{Path: "$.payload.total", Operator: OpGt, Value: 100},
	}}

	require.True(t, f.Matches(orderEvent(150)))
	require.False(t, f.Matches(orderEvent(50)))
	require.False(t, f.Matches(orderEvent(100)), "gt is strict")
}

func TestFilter_ConditionOperators(t *testing.T) {
	event := orderEvent(150)

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"eq string", Condition{Path: "$.payload.currency", Operator: OpEq, Value: "EUR"}, true},
		{"eq number", Condition{Path: "$.payload.total", Operator: OpEq, Value: 150}, true},
		{"eq bool", Condition{Path: "$.payload.customer.vip", Operator: OpEq, Value: true}, true},
		{"ne", Condition{Path: "$.payload.currency", Operator: OpNe, Value: "USD"}, true},
		{"gte equal", Condition{Path: "$.payload.total", Operator: OpGte, Value: 150}, true},
		{"lt", Condition{Path: "$.payload.total", Operator: OpLt, Value: 200}, true},
		{"lte", Condition{Path: "$.payload.total", Operator: OpLte, Value: 149}, false},
		{"contains string", Condition{Path: "$.payload.currency", Operator: OpContains, Value: "EU"}, true},
		{"contains array", Condition{Path: "$.payload.items", Operator: OpContains, Value: "sku-2"}, true},
		{"startsWith", Condition{Path: "$.type", Operator: OpStartsWith, Value: "order."}, true},
		{"endsWith", Condition{Path: "$.type", Operator: OpEndsWith, Value: ".created"}, true},
		{"regex", Condition{Path: "$.type", Operator: OpRegex, Value: `^order\.\w+$`}, true},
		{"regex no match", Condition{Path: "$.type", Operator: OpRegex, Value: `^invoice\.`}, false},
		{"in", Condition{Path: "$.payload.currency", Operator: OpIn, Value: []any{"USD", "EUR"}}, true},
		{"in miss", Condition{Path: "$.payload.currency", Operator: OpIn, Value: []any{"USD", "GBP"}}, false},
		{"tenant via path", Condition{Path: "$.tenantId", Operator: OpEq, Value: "acme"}, true},
		{"missing path", Condition{Path: "$.payload.nope", Operator: OpEq, Value: 1}, false},
		{"unknown operator fails closed", Condition{Path: "$.payload.total", Operator: "between", Value: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &Filter{Conditions: []Condition{tt.cond}}
			require.Equal(t, tt.want, f.Matches(event))
		})
	}
}

func TestFilter_ConditionsAreANDed(t *testing.T) {
	f := &Filter{Conditions: []Condition{
		{Path: "$.payload.total", Operator: OpGt, Value: 100},
		{Path: "$.payload.currency", Operator: OpEq, Value: "USD"},
	}}

	require.False(t, f.Matches(orderEvent(150)), "every condition must pass")
}

func TestFilter_AllClausesCombine(t *testing.T) {
	f := &Filter{
		Sources:  []string{"orders-api"},
		Metadata: map[string]string{"region": "eu"},
		Conditions: []Condition{
			{Path: "$.payload.total", Operator: OpGte, Value: 100},
		},
	}

	require.True(t, f.Matches(orderEvent(100)))

	event := orderEvent(100)
	event.Source = "other"
	require.False(t, f.Matches(event))
}

func TestFilter_Expression(t *testing.T) {
	env, err := newFilterEnv()
	require.NoError(t, err)

	f := &Filter{Expression: `payload.total > 100.0 && event.tenantId == "acme"`}
	require.NoError(t, f.compile(env))

	require.True(t, f.Matches(orderEvent(150)))
	require.False(t, f.Matches(orderEvent(50)))
}

func TestFilter_ExpressionCompileError(t *testing.T) {
	env, err := newFilterEnv()
	require.NoError(t, err)

	f := &Filter{Expression: `payload.total >`}
	require.Error(t, f.compile(env))
}

func TestExtractPath(t *testing.T) {
	doc := map[string]any{
		"a": map[string]any{"b": map[string]any{"c": 42.0}},
	}

	v, ok := extractPath(doc, "$.a.b.c")
	require.True(t, ok)
	require.Equal(t, 42.0, v)

	_, ok = extractPath(doc, "$.a.x")
	require.False(t, ok)

	_, ok = extractPath(doc, "a.b.c")
	require.False(t, ok, "path must start with $.")
}
