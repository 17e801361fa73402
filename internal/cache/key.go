package cache

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Params are the query parameters of a cached request. Keys with nil values
// are ignored so that an unset filter and an absent filter share one entry.
type Params map[string]any

// Clone returns a shallow copy.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}

	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}

	return out
}

// Canonical renders params deterministically: keys sorted, nil values dropped.
func (p Params) Canonical() string {
	if len(p) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(p))
	for k, v := range p {
		if v != nil {
			keys = append(keys, k)
		}
	}

	sort.Strings(keys)

	var b strings.Builder

	b.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}

		name, _ := json.Marshal(k)
		b.Write(name)
		b.WriteByte(':')
		b.WriteString(canonicalValue(p[k]))
	}

	b.WriteByte('}')

	return b.String()
}

// encoding/json sorts map keys, which covers nested maps.
func canonicalValue(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%q", fmt.Sprint(v))
	}

	return string(raw)
}

// Key builds the composite cache key v{version}:{endpoint}:{canonicalParams}.
func Key(version uint64, endpoint string, params Params) string {
	return fmt.Sprintf("v%d:%s:%s", version, endpoint, params.Canonical())
}

// EndpointPattern matches every key of endpoint, in any version.
func EndpointPattern(endpoint string) *regexp.Regexp {
	return regexp.MustCompile(`^v\d+:` + regexp.QuoteMeta(endpoint) + `:`)
}
