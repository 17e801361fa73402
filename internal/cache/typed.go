package cache

// Lookup is Get with a type assertion. A stored value of another type is a miss.
func Lookup[T any](s *Store, endpoint string, params Params) (T, bool) {
	var zero T

	raw, ok := s.Get(endpoint, params)
	if !ok {
		return zero, false
	}

	v, ok := raw.(T)
	if !ok {
		return zero, false
	}

	return v, true
}
