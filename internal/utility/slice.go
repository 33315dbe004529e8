package utility

import "sort"

// Contains kiểm tra một phần tử có trong slice hay không
func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// SortedUnique bỏ phần tử rỗng/trùng và sắp xếp; slice rỗng trả về nil
func SortedUnique(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// EqualStrings so sánh hai slice, nil và rỗng được coi là bằng nhau
func EqualStrings(a, b []string) bool {
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

// Chunk chia slice thành các phần tối đa size phần tử
func Chunk[T any](in []T, size int) [][]T {
	if size <= 0 {
		size = len(in)
	}
	var out [][]T
	for start := 0; start < len(in); start += size {
		end := start + size
		if end > len(in) {
			end = len(in)
		}
		out = append(out, in[start:end])
	}
	return out
}
