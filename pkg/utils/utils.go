package utils

import (
	"sort"
	"strings"

	"github.com/google/uuid"
)

// GenerateUUID generates uuid v4 without dashes.
func GenerateUUID() string {
	return stripDashes(uuid.New())
}

// DeterministicID derives a stable id from the key parts.
func DeterministicID(namespace uuid.UUID, parts ...string) string {
	return stripDashes(uuid.NewSHA1(namespace, []byte(strings.Join(parts, "\x1f"))))
}

func stripDashes(id uuid.UUID) string {
	return strings.Map(func(r rune) rune {
		if r == '-' {
			return -1
		}
		return r
	}, id.String())
}

// Max returns the larger of x or y.
func Max(x, y int) int {
	if x < y {
		return y
	}
	return x
}

// Min returns the smaller of x or y.
func Min(x, y int) int {
	if x > y {
		return y
	}
	return x
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Unique returns the distinct non empty values of list in sorted order.
func Unique(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, v := range list {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// ContainsAll reports whether every value of want is present in have.
func ContainsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, v := range have {
		set[v] = struct{}{}
	}
	for _, v := range want {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

// Chunk invokes fn for every [start, end) window of at most chunkSize over total items.
func Chunk(chunkSize, total int, fn func(start int, end int) error) error {
	for i := 0; i < total; i += chunkSize {
		end := i + chunkSize
		if end > total {
			end = total
		}
		if err := fn(i, end); err != nil {
			return err
		}
	}
	return nil
}
