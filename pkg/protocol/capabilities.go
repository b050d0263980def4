package protocol

import "sort"

// Capabilities maps a capability name to a boolean or a descriptive value
// (for example the GPU model string).
type Capabilities map[string]any

// Keys returns the capability names in sorted order.
func (c Capabilities) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Has reports whether name is declared with a truthy value.
func (c Capabilities) Has(name string) bool {
	v, ok := c[name]
	if !ok {
		return false
	}
	return truthy(v)
}

// Merge copies other into c, overwriting existing keys.
func (c Capabilities) Merge(other Capabilities) {
	for k, v := range other {
		c[k] = v
	}
}

// truthy follows JSON-ish truthiness: false, "", 0, null, empty list and
// empty object are false.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}
