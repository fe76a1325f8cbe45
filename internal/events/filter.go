package events

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/rs/zerolog/log"
)

// Operator is a filter condition comparison. Unsupported operators
// never match.
type Operator string

const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGte        Operator = "gte"
	OpLt         Operator = "lt"
	OpLte        Operator = "lte"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startsWith"
	OpEndsWith   Operator = "endsWith"
	OpRegex      Operator = "regex"
	OpIn         Operator = "in"
)

// Condition is one predicate evaluated against the full event object
// using a $.field.subfield path.
type Condition struct {
	Path     string   `json:"path"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// Filter restricts which events a subscription receives. All present
// clauses must match; an absent clause means no constraint.
type Filter struct {
	// Sources is an allow-list of event sources.
	Sources []string `json:"sources,omitempty"`

	// Metadata requires every listed key to be present on the event
	// with an exactly equal value.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Conditions are evaluated independently and ANDed.
	Conditions []Condition `json:"conditions,omitempty"`

	// Expression is an optional CEL expression over the variables
	// `event` (the full event object) and `payload`. It is compiled
	// at subscribe time.
	Expression string `json:"expression,omitempty"`

	program cel.Program
}

// Matches reports whether the event passes every clause of the filter.
// A nil filter matches everything.
func (f *Filter) Matches(event *Event) bool {
	if f == nil {
		return true
	}

	if len(f.Sources) > 0 {
		found := false
		for _, s := range f.Sources {
			if s == event.Source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	for key, want := range f.Metadata {
		got, ok := event.Metadata[key]
		if !ok || got != want {
			return false
		}
	}

	if len(f.Conditions) > 0 || f.program != nil {
		doc, err := eventDocument(event)
		if err != nil {
			log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to build event document for filtering")
			return false
		}

		for _, cond := range f.Conditions {
			if !cond.matches(doc) {
				return false
			}
		}

		if f.program != nil && !f.evalExpression(doc) {
			return false
		}
	}

	return true
}

func (f *Filter) evalExpression(doc map[string]any) bool {
	out, _, err := f.program.Eval(map[string]any{
		"event":   doc,
		"payload": doc["payload"],
	})
	if err != nil {
		log.Debug().Err(err).Msg("Filter expression evaluation failed")
		return false
	}

	matched, ok := out.Value().(bool)
	return ok && matched
}

// compile prepares the CEL expression, if any. Called once at
// subscribe time.
func (f *Filter) compile(env *cel.Env) error {
	if f == nil || f.Expression == "" {
		return nil
	}

	ast, issues := env.Compile(f.Expression)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("compiling filter expression: %w", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return fmt.Errorf("creating filter program: %w", err)
	}

	f.program = program
	return nil
}

func newFilterEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("payload", cel.DynType),
	)
}

// eventDocument converts the event to a plain map so path extraction
// reaches into arbitrary payload types.
func eventDocument(event *Event) (map[string]any, error) {
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshaling event: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling event document: %w", err)
	}

	return doc, nil
}

// extractPath resolves a $.field.subfield path against the document.
// Returns (nil, false) when any segment is missing.
func extractPath(doc map[string]any, path string) (any, bool) {
	trimmed := strings.TrimPrefix(path, "$.")
	if trimmed == path || trimmed == "" {
		return nil, false
	}

	var current any = doc
	for _, segment := range strings.Split(trimmed, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}

	return current, true
}

func (c Condition) matches(doc map[string]any) bool {
	actual, ok := extractPath(doc, c.Path)
	if !ok {
		return false
	}

	switch c.Operator {
	case OpEq:
		return looseEqual(actual, c.Value)
	case OpNe:
		return !looseEqual(actual, c.Value)
	case OpGt, OpGte, OpLt, OpLte:
		return compareNumbers(actual, c.Value, c.Operator)
	case OpContains:
		return containsValue(actual, c.Value)
	case OpStartsWith:
		a, aok := asString(actual)
		b, bok := asString(c.Value)
		return aok && bok && strings.HasPrefix(a, b)
	case OpEndsWith:
		a, aok := asString(actual)
		b, bok := asString(c.Value)
		return aok && bok && strings.HasSuffix(a, b)
	case OpRegex:
		a, aok := asString(actual)
		pattern, bok := asString(c.Value)
		if !aok || !bok {
			return false
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false
		}
		return re.MatchString(a)
	case OpIn:
		values, ok := c.Value.([]any)
		if !ok {
			return false
		}
		for _, v := range values {
			if looseEqual(actual, v) {
				return true
			}
		}
		return false
	default:
		// Fail closed on unknown operators.
		return false
	}
}

func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
	}
	if as, aok := asString(a); aok {
		if bs, bok := asString(b); bok {
			return as == bs
		}
	}
	if ab, aok := a.(bool); aok {
		if bb, bok := b.(bool); bok {
			return ab == bb
		}
	}
	return false
}

func compareNumbers(a, b any, op Operator) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if !aok || !bok {
		return false
	}

	switch op {
	case OpGt:
		return af > bf
	case OpGte:
		return af >= bf
	case OpLt:
		return af < bf
	case OpLte:
		return af <= bf
	default:
		return false
	}
}

func containsValue(actual, want any) bool {
	switch v := actual.(type) {
	case string:
		s, ok := asString(want)
		return ok && strings.Contains(v, s)
	case []any:
		for _, item := range v {
			if looseEqual(item, want) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
