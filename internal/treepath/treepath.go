package treepath

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidPath = errors.New("invalid path")
	ErrNotFound    = errors.New("path not found")
)

// Step is one segment of a field path: an object key or a list index
type Step struct {
	Key      string
	Index    int
	IsIndex  bool
	Wildcard bool // [*]
}

// Parse splits a path like "key_findings[2].statistical_evidence" into steps.
// The empty path addresses the root.
func Parse(path string) ([]Step, error) {
	var steps []Step
	expectKey := true

	for i := 0; i < len(path); {
		switch c := path[i]; c {
		case '[':
			if expectKey && len(steps) > 0 {
				return nil, fmt.Errorf("%w: %q: index after '.'", ErrInvalidPath, path)
			}
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("%w: %q: unclosed bracket", ErrInvalidPath, path)
			}
			inner := path[i+1 : i+end]
			if inner == "*" {
				steps = append(steps, Step{IsIndex: true, Wildcard: true})
			} else {
				n, err := strconv.Atoi(inner)
				if err != nil || n < 0 {
					return nil, fmt.Errorf("%w: %q: bad index %q", ErrInvalidPath, path, inner)
				}
				steps = append(steps, Step{IsIndex: true, Index: n})
			}
			i += end + 1
			expectKey = false
		case '.':
			if expectKey {
				return nil, fmt.Errorf("%w: %q: empty key", ErrInvalidPath, path)
			}
			i++
			expectKey = true
		default:
			if !expectKey {
				return nil, fmt.Errorf("%w: %q: missing '.' before key", ErrInvalidPath, path)
			}
			j := i
			for j < len(path) && path[j] != '.' && path[j] != '[' && path[j] != ']' {
				j++
			}
			if j == i {
				return nil, fmt.Errorf("%w: %q: unexpected %q", ErrInvalidPath, path, c)
			}
			steps = append(steps, Step{Key: path[i:j]})
			i = j
			expectKey = false
		}
	}
	if expectKey && len(path) > 0 {
		return nil, fmt.Errorf("%w: %q: trailing '.'", ErrInvalidPath, path)
	}
	return steps, nil
}

// Format is the inverse of Parse
func Format(steps []Step) string {
	var b strings.Builder
	for i, s := range steps {
		switch {
		case s.Wildcard:
			b.WriteString("[*]")
		case s.IsIndex:
			b.WriteString("[")
			b.WriteString(strconv.Itoa(s.Index))
			b.WriteString("]")
		default:
			if i > 0 {
				b.WriteString(".")
			}
			b.WriteString(s.Key)
		}
	}
	return b.String()
}

// Get returns the value at path
func Get(root any, path string) (any, error) {
	steps, err := Parse(path)
	if err != nil {
		return nil, err
	}
	node := root
	for _, s := range steps {
		next, ok := child(node, s)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		node = next
	}
	return node, nil
}

// Set replaces the value at path and returns the (possibly new) root.
// Intermediate containers must exist; the final object key may be new.
// Set modifies root in place: Clone first to keep the original.
func Set(root any, path string, value any) (any, error) {
	steps, err := Parse(path)
	if err != nil {
		return nil, err
	}
	out, err := setAt(root, steps, value)
	if err != nil {
		return nil, fmt.Errorf("set %s: %w", path, err)
	}
	return out, nil
}

func setAt(node any, steps []Step, value any) (any, error) {
	if len(steps) == 0 {
		return value, nil
	}
	s := steps[0]
	if s.Wildcard {
		return nil, ErrInvalidPath
	}
	if s.IsIndex {
		list, ok := node.([]any)
		if !ok || s.Index >= len(list) {
			return nil, ErrNotFound
		}
		c, err := setAt(list[s.Index], steps[1:], value)
		if err != nil {
			return nil, err
		}
		list[s.Index] = c
		return list, nil
	}

	obj, ok := node.(map[string]any)
	if !ok {
		return nil, ErrNotFound
	}
	if len(steps) == 1 {
		obj[s.Key] = value
		return obj, nil
	}
	cur, ok := obj[s.Key]
	if !ok {
		return nil, ErrNotFound
	}
	c, err := setAt(cur, steps[1:], value)
	if err != nil {
		return nil, err
	}
	obj[s.Key] = c
	return obj, nil
}

// Delete removes the value at path and returns the (possibly new) root.
// Removing a list element shifts every later element down by one.
func Delete(root any, path string) (any, error) {
	steps, err := Parse(path)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: cannot delete root", ErrInvalidPath)
	}
	out, err := deleteAt(root, steps)
	if err != nil {
		return nil, fmt.Errorf("delete %s: %w", path, err)
	}
	return out, nil
}

func deleteAt(node any, steps []Step) (any, error) {
	s := steps[0]
	if s.Wildcard {
		return nil, ErrInvalidPath
	}
	if s.IsIndex {
		list, ok := node.([]any)
		if !ok || s.Index >= len(list) {
			return nil, ErrNotFound
		}
		if len(steps) == 1 {
			out := make([]any, 0, len(list)-1)
			out = append(out, list[:s.Index]...)
			return append(out, list[s.Index+1:]...), nil
		}
		c, err := deleteAt(list[s.Index], steps[1:])
		if err != nil {
			return nil, err
		}
		list[s.Index] = c
		return list, nil
	}

	obj, ok := node.(map[string]any)
	if !ok {
		return nil, ErrNotFound
	}
	cur, ok := obj[s.Key]
	if !ok {
		return nil, ErrNotFound
	}
	if len(steps) == 1 {
		delete(obj, s.Key)
		return obj, nil
	}
	c, err := deleteAt(cur, steps[1:])
	if err != nil {
		return nil, err
	}
	obj[s.Key] = c
	return obj, nil
}

// Expand resolves a pattern containing [*] into the concrete paths present
// in root, in document order. Fields missing from root are skipped.
func Expand(root any, pattern string) ([]string, error) {
	steps, err := Parse(pattern)
	if err != nil {
		return nil, err
	}
	var out []string
	expand(root, steps, nil, &out)
	return out, nil
}

func expand(node any, steps []Step, prefix []Step, out *[]string) {
	if len(steps) == 0 {
		*out = append(*out, Format(prefix))
		return
	}
	s := steps[0]
	if s.Wildcard {
		list, ok := node.([]any)
		if !ok {
			return
		}
		for i := range list {
			expand(list[i], steps[1:], with(prefix, Step{IsIndex: true, Index: i}), out)
		}
		return
	}
	next, ok := child(node, s)
	if !ok {
		return
	}
	expand(next, steps[1:], with(prefix, s), out)
}

// Element returns the nearest enclosing list element of path, e.g.
// "key_findings[0]" for "key_findings[0].statistical_evidence".
func Element(path string) (string, bool) {
	steps, err := Parse(path)
	if err != nil {
		return "", false
	}
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].IsIndex && !steps[i].Wildcard {
			return Format(steps[:i+1]), true
		}
	}
	return "", false
}

// Parent drops the last step of path
func Parent(path string) string {
	steps, err := Parse(path)
	if err != nil || len(steps) == 0 {
		return ""
	}
	return Format(steps[:len(steps)-1])
}

// Shift maps a path recorded before removed was deleted onto the record
// after deletion. It reports false when path lay inside the removed value.
func Shift(path, removed string) (string, bool) {
	ps, err := Parse(path)
	if err != nil {
		return path, true
	}
	rs, err := Parse(removed)
	if err != nil || len(rs) == 0 {
		return path, true
	}
	if len(ps) < len(rs) || !equalSteps(ps[:len(rs)-1], rs[:len(rs)-1]) {
		return path, true
	}

	last := rs[len(rs)-1]
	at := ps[len(rs)-1]
	if !last.IsIndex {
		if at.IsIndex || at.Key != last.Key {
			return path, true
		}
		return "", false
	}
	if !at.IsIndex || at.Wildcard {
		return path, true
	}
	switch {
	case at.Index == last.Index:
		return "", false
	case at.Index > last.Index:
		shifted := append([]Step(nil), ps...)
		shifted[len(rs)-1].Index--
		return Format(shifted), true
	default:
		return path, true
	}
}

// Compare orders paths step by step: keys lexically, indices numerically,
// a prefix before its extensions.
func Compare(a, b string) int {
	as, _ := Parse(a)
	bs, _ := Parse(b)
	for i := 0; i < len(as) && i < len(bs); i++ {
		x, y := as[i], bs[i]
		switch {
		case x.IsIndex && y.IsIndex:
			if x.Index != y.Index {
				if x.Index < y.Index {
					return -1
				}
				return 1
			}
		case x.IsIndex != y.IsIndex:
			if x.IsIndex {
				return -1
			}
			return 1
		default:
			if c := strings.Compare(x.Key, y.Key); c != 0 {
				return c
			}
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

// Clone deep-copies a JSON tree
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[k] = Clone(x)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = Clone(x)
		}
		return out
	default:
		return v
	}
}

// CloneMap deep-copies a JSON object
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return Clone(m).(map[string]any)
}

func child(node any, s Step) (any, bool) {
	if s.IsIndex {
		list, ok := node.([]any)
		if !ok || s.Wildcard || s.Index >= len(list) {
			return nil, false
		}
		return list[s.Index], true
	}
	obj, ok := node.(map[string]any)
	if !ok {
		return nil, false
	}
	v, ok := obj[s.Key]
	return v, ok
}

func with(prefix []Step, s Step) []Step {
	out := make([]Step, len(prefix), len(prefix)+1)
	copy(out, prefix)
	return append(out, s)
}

func equalSteps(a, b []Step) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
