package retrieval

import (
	"fmt"
	"strconv"
	"strings"
)

// RangePredicate is a parsed price/price_range filter. Malformed ranges
// yield AlwaysFalse rather than an error.
type RangePredicate struct {
	AlwaysFalse bool
	Exact       *float64
	Min, Max    *float64 // either may be nil for one-sided ranges
}

// ParseRange parses "LO-HI", ">=X", "<=X", ">X", "<X", or an exact numeric.
func ParseRange(raw string) RangePredicate {
	raw = strings.TrimSpace(raw)
	switch {
	case strings.HasPrefix(raw, ">="):
		if v, err := strconv.ParseFloat(strings.TrimSpace(raw[2:]), 64); err == nil {
			return RangePredicate{Min: &v}
		}
	case strings.HasPrefix(raw, "<="):
		if v, err := strconv.ParseFloat(strings.TrimSpace(raw[2:]), 64); err == nil {
			return RangePredicate{Max: &v}
		}
	case strings.HasPrefix(raw, ">"):
		if v, err := strconv.ParseFloat(strings.TrimSpace(raw[1:]), 64); err == nil {
			lo := v
			return RangePredicate{Min: exclusiveBump(&lo, true)}
		}
	case strings.HasPrefix(raw, "<"):
		if v, err := strconv.ParseFloat(strings.TrimSpace(raw[1:]), 64); err == nil {
			hi := v
			return RangePredicate{Max: exclusiveBump(&hi, false)}
		}
	case strings.Contains(raw, "-"):
		parts := strings.SplitN(raw, "-", 2)
		if len(parts) == 2 {
			lo, errLo := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
			hi, errHi := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
			if errLo == nil && errHi == nil && lo <= hi {
				return RangePredicate{Min: &lo, Max: &hi}
			}
		}
	default:
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return RangePredicate{Exact: &v}
		}
	}
	return RangePredicate{AlwaysFalse: true}
}

// exclusiveBump nudges a strict inequality bound by a negligible epsilon so
// the predicate can be expressed with the same inclusive Min/Max shape used
// for ranges, without claiming false precision about "exclusive" semantics
// downstream (the meta filter values are business numbers like price, not
// floating-point-sensitive quantities).
func exclusiveBump(v *float64, isMin bool) *float64 {
	const eps = 1e-9
	r := *v
	if isMin {
		r += eps
	} else {
		r -= eps
	}
	return &r
}

// Matches reports whether a numeric metadata value satisfies the predicate.
func (p RangePredicate) Matches(value float64) bool {
	if p.AlwaysFalse {
		return false
	}
	if p.Exact != nil {
		return value == *p.Exact
	}
	if p.Min != nil && value < *p.Min {
		return false
	}
	if p.Max != nil && value > *p.Max {
		return false
	}
	return true
}

// SlotAliases maps slot names to the filter key they populate:
// categoria→category, zone|city→city,
// operation→operation.
var SlotAliases = map[string]string{
	"categoria": "category",
	"zone":      "city",
	"city":      "city",
	"operation": "operation",
}

// FiltersFromSlots projects an orchestrator slot map onto retrieval filters
// using SlotAliases, ignoring slots with no alias.
func FiltersFromSlots(slots map[string]string) map[string]FilterValue {
	out := make(map[string]FilterValue)
	for k, v := range slots {
		if alias, ok := SlotAliases[strings.ToLower(k)]; ok && v != "" {
			out[alias] = FilterValue{Scalar: v}
		}
	}
	return out
}

// FiltersFromAny converts a loose JSON filter map (request bodies,
// orchestrator tool calls) into typed FilterValues: lists become "any of"
// sets, scalars keep their string rendering.
func FiltersFromAny(raw map[string]any) map[string]FilterValue {
	out := make(map[string]FilterValue, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case []any:
			list := make([]string, 0, len(t))
			for _, e := range t {
				list = append(list, fmt.Sprintf("%v", e))
			}
			out[k] = FilterValue{List: list, IsList: true}
		case nil:
			// skip
		default:
			out[k] = FilterValue{Scalar: fmt.Sprintf("%v", t)}
		}
	}
	return out
}

// isRangeKey reports whether a filter key uses RangePredicate semantics
// instead of scalar/list equality.
func isRangeKey(key string) bool {
	return key == "price" || key == "price_range"
}

// MatchesMeta evaluates one parsed meta-field map (values flattened to
// strings by decodeMetaJSON) against the filter set identically for lexical and
// vector primitives, following the "applied identically to both".
func MatchesMeta(meta map[string]string, filters map[string]FilterValue) bool {
	for key, fv := range filters {
		actual, present := meta[key]
		if isRangeKey(key) {
			if !present {
				return false
			}
			num, err := strconv.ParseFloat(actual, 64)
			if err != nil {
				return false
			}
			rangeValue := fv.Scalar
			if !ParseRange(rangeValue).Matches(num) {
				return false
			}
			continue
		}
		if !present {
			return false
		}
		if fv.IsList {
			matched := false
			for _, want := range fv.List {
				if strings.EqualFold(actual, want) {
					matched = true
					break
				}
			}
			if !matched {
				return false
			}
			continue
		}
		if !strings.EqualFold(actual, fv.Scalar) {
			return false
		}
	}
	return true
}

// QueryHash binds a cursor to the exact search it was issued for.
func QueryHash(workspaceID, query string, filters map[string]FilterValue, hybrid bool) string {
	var sb strings.Builder
	sb.WriteString(workspaceID)
	sb.WriteByte('|')
	sb.WriteString(query)
	sb.WriteByte('|')
	fmt.Fprintf(&sb, "%v", hybrid)
	sb.WriteByte('|')
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	// deterministic order
	for i := 0; i < len(keys); i++ {
		for j := i + 1; j < len(keys); j++ {
			if keys[j] < keys[i] {
				keys[i], keys[j] = keys[j], keys[i]
			}
		}
	}
	for _, k := range keys {
		fv := filters[k]
		sb.WriteString(k)
		sb.WriteByte('=')
		if fv.IsList {
			sb.WriteString(strings.Join(fv.List, ","))
		} else {
			sb.WriteString(fv.Scalar)
		}
		sb.WriteByte(';')
	}
	return sha256Hex(sb.String())
}
