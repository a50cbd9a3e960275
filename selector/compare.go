package selector

import (
	"encoding/json"
	"sort"
	"strings"
)

// Collation ranks, lowest first.
const (
	rankNull = iota
	rankFalse
	rankTrue
	rankNumber
	rankString
	rankArray
	rankObject
)

func rank(v any) int {
	switch t := v.(type) {
	case nil:
		return rankNull
	case bool:
		if t {
			return rankTrue
		}
		return rankFalse
	case string:
		return rankString
	case []any:
		return rankArray
	case map[string]any:
		return rankObject
	}
	if _, ok := toFloat(v); ok {
		return rankNumber
	}
	return rankObject
}

// Compare orders two JSON values the way CouchDB collates view keys:
// null < false < true < numbers < strings < arrays < objects.
func Compare(a, b any) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}
	switch ra {
	case rankNumber:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case rankString:
		return strings.Compare(a.(string), b.(string))
	case rankArray:
		aa, ab := a.([]any), b.([]any)
		for i := 0; i < len(aa) && i < len(ab); i++ {
			if c := Compare(aa[i], ab[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(aa), len(ab))
	case rankObject:
		ma, okA := a.(map[string]any)
		mb, okB := b.(map[string]any)
		if !okA || !okB {
			return 0
		}
		ka, kb := sortedKeys(ma), sortedKeys(mb)
		for i := 0; i < len(ka) && i < len(kb); i++ {
			if c := strings.Compare(ka[i], kb[i]); c != 0 {
				return c
			}
			if c := Compare(ma[ka[i]], mb[kb[i]]); c != 0 {
				return c
			}
		}
		return cmpInt(len(ka), len(kb))
	}
	return 0
}

// Equal reports whether two JSON values collate equal.
func Equal(a, b any) bool {
	return Compare(a, b) == 0
}

// TypeName returns the JSON type name of v.
func TypeName(v any) string {
	switch rank(v) {
	case rankNull:
		return "null"
	case rankFalse, rankTrue:
		return "boolean"
	case rankNumber:
		return "number"
	case rankString:
		return "string"
	case rankArray:
		return "array"
	}
	return "object"
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toFloat(v any) (float64, bool) {
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
	}
	return 0, false
}
