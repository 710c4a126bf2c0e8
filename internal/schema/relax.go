package schema

// Relax returns a copy of a JSON schema in which every property is optional:
// "required" and "minItems" are dropped at every depth. Partial results
// extracted from one chunk are validated against this form.
func Relax(raw map[string]any) map[string]any {
	out, _ := relax(raw).(map[string]any)
	return out
}

func relax(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			if k == "required" || k == "minItems" || k == "minProperties" {
				continue
			}
			out[k] = relax(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = relax(x)
		}
		return out
	default:
		return v
	}
}

// Sanitize drops null values of properties the schema does not require.
// Models routinely emit "field": null for absent optional fields, which a
// schema typed as string would reject.
func Sanitize(data map[string]any, raw map[string]any) map[string]any {
	out, _ := sanitize(data, raw).(map[string]any)
	return out
}

func sanitize(v any, node map[string]any) any {
	switch t := v.(type) {
	case map[string]any:
		props, _ := node["properties"].(map[string]any)
		required := requiredSet(node)
		out := make(map[string]any, len(t))
		for k, x := range t {
			if x == nil && !required[k] {
				continue
			}
			sub, _ := props[k].(map[string]any)
			out[k] = sanitize(x, sub)
		}
		return out
	case []any:
		items, _ := node["items"].(map[string]any)
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = sanitize(x, items)
		}
		return out
	default:
		return v
	}
}

func requiredSet(node map[string]any) map[string]bool {
	set := map[string]bool{}
	list, _ := node["required"].([]any)
	for _, r := range list {
		if s, ok := r.(string); ok {
			set[s] = true
		}
	}
	return set
}
