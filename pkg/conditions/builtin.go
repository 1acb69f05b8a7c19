package conditions

import (
	"encoding/json"
	"fmt"

	"github.com/pergolahq/pergola/pkg/domain"
)

// Builtin predicates. All comparisons treat a missing or non-coercible field
// as non-matching rather than erroring, per the fail-safe evaluation rule.
func registerBuiltins(r *Registry) {
	r.Register("exists", func(_ domain.Intent, data, params map[string]any) (bool, error) {
		v, ok := data[field(params)]
		if !ok || v == nil {
			return false, nil
		}
		s, isStr := v.(string)
		return !isStr || s != "", nil
	})

	r.Register("missing", func(_ domain.Intent, data, params map[string]any) (bool, error) {
		v, ok := data[field(params)]
		if !ok || v == nil {
			return true, nil
		}
		s, isStr := v.(string)
		return isStr && s == "", nil
	})

	r.Register("eq", func(_ domain.Intent, data, params map[string]any) (bool, error) {
		v, ok := data[field(params)]
		if !ok {
			return false, nil
		}
		want, ok := params["value"]
		if !ok {
			return false, nil
		}
		if a, aok := toFloat(v); aok {
			if b, bok := toFloat(want); bok {
				return a == b, nil
			}
		}
		return fmt.Sprintf("%v", v) == fmt.Sprintf("%v", want), nil
	})

	r.Register("in", func(_ domain.Intent, data, params map[string]any) (bool, error) {
		v, ok := data[field(params)]
		if !ok {
			return false, nil
		}
		values, ok := params["values"].([]any)
		if !ok {
			return false, nil
		}
		got := fmt.Sprintf("%v", v)
		for _, candidate := range values {
			if fmt.Sprintf("%v", candidate) == got {
				return true, nil
			}
		}
		return false, nil
	})

	numeric := func(cmp func(a, b float64) bool) Predicate {
		return func(_ domain.Intent, data, params map[string]any) (bool, error) {
			v, ok := data[field(params)]
			if !ok {
				return false, nil
			}
			a, aok := toFloat(v)
			b, bok := toFloat(params["value"])
			if !aok || !bok {
				return false, nil
			}
			return cmp(a, b), nil
		}
	}
	r.Register("gt", numeric(func(a, b float64) bool { return a > b }))
	r.Register("gte", numeric(func(a, b float64) bool { return a >= b }))
	r.Register("lt", numeric(func(a, b float64) bool { return a < b }))
	r.Register("lte", numeric(func(a, b float64) bool { return a <= b }))

	r.Register("confidence_at_least", func(intent domain.Intent, _, params map[string]any) (bool, error) {
		min, ok := toFloat(params["value"])
		if !ok {
			return false, nil
		}
		return intent.Confidence >= min, nil
	})
}

func field(params map[string]any) string {
	f, _ := params["field"].(string)
	return f
}

// toFloat coerces the numeric shapes YAML and JSON decoding produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		var f float64
		if _, err := fmt.Sscanf(n, "%g", &f); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}
