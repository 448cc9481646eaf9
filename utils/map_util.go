package utils

import "sort"

func MapForEach[K comparable, V any](in map[K]V, iteratee func(K, V, int)) {
	idx := 0
	for key, value := range in {
		iteratee(key, value, idx)
		idx++
	}
}

// SortedKeys returns the keys of a string-keyed map in ascending order.
func SortedKeys[K ~string, V any](in map[K]V) []K {
	result := make([]K, 0, len(in))
	for key := range in {
		result = append(result, key)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}
