// Package selector evaluates Mango-style query selectors against JSON
// documents.
//
// A selector is compiled once, which validates every operator up front, and
// can then be matched against any number of documents:
//
//	s, err := selector.Compile(map[string]any{
//		"$and": []any{
//			map[string]any{"collection": "orders"},
//			map[string]any{"qty": map[string]any{"$gte": 5}},
//		},
//	})
//	if err != nil { ... }
//	ok := s.Match(doc)
package selector

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
)

// ErrInvalid is wrapped by every compile error.
var ErrInvalid = errors.New("invalid selector")

type predicate func(doc map[string]any) bool

type condition func(val any, ok bool) bool

// Selector is a compiled selector.
type Selector struct {
	root predicate
}

// Compile validates sel and prepares it for matching. A nil or empty
// selector matches every document.
func Compile(sel map[string]any) (*Selector, error) {
	p, err := compileSelector(sel)
	if err != nil {
		return nil, err
	}
	return &Selector{root: p}, nil
}

// Match reports whether doc satisfies the selector.
func (s *Selector) Match(doc map[string]any) bool {
	return s.root(doc)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func compileSelector(sel map[string]any) (predicate, error) {
	// Sorted so that compile errors are deterministic.
	keys := make([]string, 0, len(sel))
	for k := range sel {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preds := make([]predicate, 0, len(keys))
	for _, key := range keys {
		arg := sel[key]
		var (
			p   predicate
			err error
		)
		switch key {
		case "$and", "$or", "$nor":
			p, err = compileCombination(key, arg)
		case "$not":
			p, err = compileNot(arg)
		case "$text":
			p, err = compileText(arg)
		default:
			if strings.HasPrefix(key, "$") {
				return nil, invalid("unknown operator %q", key)
			}
			p, err = compileField(key, arg)
		}
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	return allOf(preds), nil
}

func allOf(preds []predicate) predicate {
	return func(doc map[string]any) bool {
		for _, p := range preds {
			if !p(doc) {
				return false
			}
		}
		return true
	}
}

func compileCombination(op string, arg any) (predicate, error) {
	list, ok := arg.([]any)
	if !ok {
		return nil, invalid("%s requires an array", op)
	}
	preds := make([]predicate, 0, len(list))
	for _, elem := range list {
		sub, ok := elem.(map[string]any)
		if !ok {
			return nil, invalid("%s elements must be objects", op)
		}
		p, err := compileSelector(sub)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}
	switch op {
	case "$and":
		return allOf(preds), nil
	case "$or":
		return func(doc map[string]any) bool {
			for _, p := range preds {
				if p(doc) {
					return true
				}
			}
			return false
		}, nil
	default:
		return func(doc map[string]any) bool {
			for _, p := range preds {
				if p(doc) {
					return false
				}
			}
			return true
		}, nil
	}
}

func compileNot(arg any) (predicate, error) {
	sub, ok := arg.(map[string]any)
	if !ok {
		return nil, invalid("$not requires an object")
	}
	p, err := compileSelector(sub)
	if err != nil {
		return nil, err
	}
	return func(doc map[string]any) bool { return !p(doc) }, nil
}

func compileText(arg any) (predicate, error) {
	term, ok := arg.(string)
	if !ok {
		return nil, invalid("$text requires a string")
	}
	term = strings.ToLower(term)
	return func(doc map[string]any) bool {
		return containsText(doc, term)
	}, nil
}

func containsText(v any, term string) bool {
	switch t := v.(type) {
	case string:
		return strings.Contains(strings.ToLower(t), term)
	case map[string]any:
		for _, e := range t {
			if containsText(e, term) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if containsText(e, term) {
				return true
			}
		}
	}
	return false
}

func compileField(path string, arg any) (predicate, error) {
	cond, err := compileCondition(arg)
	if err != nil {
		return nil, fmt.Errorf("field %q: %w", path, err)
	}
	parts := strings.Split(path, ".")
	return func(doc map[string]any) bool {
		val, ok := lookup(doc, parts)
		return cond(val, ok)
	}, nil
}

func lookup(doc map[string]any, parts []string) (any, bool) {
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// compileCondition handles the value side of a field clause: a literal
// (implicit $eq), an operator object, or a nested sub-selector.
func compileCondition(arg any) (condition, error) {
	obj, ok := arg.(map[string]any)
	if !ok {
		return opEq(arg), nil
	}
	if !hasOperator(obj) {
		p, err := compileSelector(obj)
		if err != nil {
			return nil, err
		}
		return func(val any, ok bool) bool {
			m, isMap := val.(map[string]any)
			return ok && isMap && p(m)
		}, nil
	}

	ops := make([]string, 0, len(obj))
	for k := range obj {
		ops = append(ops, k)
	}
	sort.Strings(ops)
	conds := make([]condition, 0, len(ops))
	for _, op := range ops {
		if !strings.HasPrefix(op, "$") {
			return nil, invalid("cannot mix operators and fields (%q)", op)
		}
		c, err := compileOperator(op, obj[op])
		if err != nil {
			return nil, err
		}
		conds = append(conds, c)
	}
	return func(val any, ok bool) bool {
		for _, c := range conds {
			if !c(val, ok) {
				return false
			}
		}
		return true
	}, nil
}

func hasOperator(obj map[string]any) bool {
	for k := range obj {
		if strings.HasPrefix(k, "$") {
			return true
		}
	}
	return false
}

func opEq(arg any) condition {
	return func(val any, ok bool) bool { return ok && Equal(val, arg) }
}

func compileOperator(op string, arg any) (condition, error) {
	switch op {
	case "$eq":
		return opEq(arg), nil
	case "$ne":
		return func(val any, ok bool) bool { return ok && !Equal(val, arg) }, nil
	case "$gt":
		return compareOp(arg, func(c int) bool { return c > 0 }), nil
	case "$gte":
		return compareOp(arg, func(c int) bool { return c >= 0 }), nil
	case "$lt":
		return compareOp(arg, func(c int) bool { return c < 0 }), nil
	case "$lte":
		return compareOp(arg, func(c int) bool { return c <= 0 }), nil
	case "$in", "$nin":
		list, ok := arg.([]any)
		if !ok {
			return nil, invalid("%s requires an array", op)
		}
		if op == "$in" {
			return func(val any, ok bool) bool { return ok && inList(val, list) }, nil
		}
		return func(val any, ok bool) bool { return ok && !inList(val, list) }, nil
	case "$exists":
		want, ok := arg.(bool)
		if !ok {
			return nil, invalid("$exists requires a boolean")
		}
		return func(_ any, ok bool) bool { return ok == want }, nil
	case "$type":
		name, ok := arg.(string)
		if !ok {
			return nil, invalid("$type requires a string")
		}
		switch name {
		case "null", "boolean", "number", "string", "array", "object":
		default:
			return nil, invalid("unknown $type %q", name)
		}
		return func(val any, ok bool) bool { return ok && TypeName(val) == name }, nil
	case "$regex":
		pattern, ok := arg.(string)
		if !ok {
			return nil, invalid("$regex requires a string")
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, invalid("bad $regex: %v", err)
		}
		return func(val any, ok bool) bool {
			s, isString := val.(string)
			return ok && isString && re.MatchString(s)
		}, nil
	case "$size":
		n, ok := toFloat(arg)
		if !ok || n < 0 || n != math.Trunc(n) {
			return nil, invalid("$size requires a non-negative integer")
		}
		return func(val any, ok bool) bool {
			arr, isArray := val.([]any)
			return ok && isArray && len(arr) == int(n)
		}, nil
	case "$all":
		list, ok := arg.([]any)
		if !ok {
			return nil, invalid("$all requires an array")
		}
		return func(val any, ok bool) bool {
			arr, isArray := val.([]any)
			if !ok || !isArray {
				return false
			}
			for _, want := range list {
				if !inList(want, arr) {
					return false
				}
			}
			return true
		}, nil
	case "$elemMatch", "$allMatch":
		c, err := compileCondition(arg)
		if err != nil {
			return nil, err
		}
		all := op == "$allMatch"
		return func(val any, ok bool) bool {
			arr, isArray := val.([]any)
			if !ok || !isArray || len(arr) == 0 {
				return false
			}
			for _, elem := range arr {
				if c(elem, true) != all {
					return !all
				}
			}
			return all
		}, nil
	case "$mod":
		pair, ok := arg.([]any)
		if !ok || len(pair) != 2 {
			return nil, invalid("$mod requires [divisor, remainder]")
		}
		div, ok1 := toFloat(pair[0])
		rem, ok2 := toFloat(pair[1])
		if !ok1 || !ok2 || div == 0 || div != math.Trunc(div) || rem != math.Trunc(rem) {
			return nil, invalid("$mod requires non-zero integer divisor and integer remainder")
		}
		return func(val any, ok bool) bool {
			n, isNum := toFloat(val)
			return ok && isNum && n == math.Trunc(n) && int64(n)%int64(div) == int64(rem)
		}, nil
	case "$not":
		c, err := compileCondition(arg)
		if err != nil {
			return nil, err
		}
		return func(val any, ok bool) bool { return !c(val, ok) }, nil
	}
	return nil, invalid("unknown operator %q", op)
}

func compareOp(arg any, accept func(int) bool) condition {
	return func(val any, ok bool) bool { return ok && accept(Compare(val, arg)) }
}

// inList reports whether val, or any element of val when it is an array,
// equals a member of list.
func inList(val any, list []any) bool {
	if arr, ok := val.([]any); ok {
		for _, v := range arr {
			if inList(v, list) {
				return true
			}
		}
	}
	for _, item := range list {
		if Equal(val, item) {
			return true
		}
	}
	return false
}
