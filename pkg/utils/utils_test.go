package utils

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestChunk(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		total     int
		want      [][2]int
	}{
		{"empty", 10, 0, nil},
		{"exact", 2, 4, [][2]int{{0, 2}, {2, 4}}},
		{"remainder", 3, 7, [][2]int{{0, 3}, {3, 6}, {6, 7}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got [][2]int
			err := Chunk(tt.chunkSize, tt.total, func(start, end int) error {
				got = append(got, [2]int{start, end})
				return nil
			})
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChunkStopsOnError(t *testing.T) {
	calls := 0
	boom := errors.New("boom")
	err := Chunk(1, 5, func(start, end int) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestDeterministicID(t *testing.T) {
	ns := uuid.MustParse("0d1b7f5c-7a3b-4f38-9b44-8d4ef8b6f0a1")
	a := DeterministicID(ns, "ingestion", "org", "repo", "1")
	b := DeterministicID(ns, "ingestion", "org", "repo", "1")
	c := DeterministicID(ns, "analysis", "org", "repo", "1")
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 32)
}

func TestUniqueAndContainsAll(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, Unique([]string{"b", "", "a", "b"}))
	assert.True(t, ContainsAll([]string{"x", "y"}, []string{"y"}))
	assert.True(t, ContainsAll([]string{"x"}, nil))
	assert.False(t, ContainsAll([]string{"x"}, []string{"z"}))
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, Clamp(-1, 0, 1))
	assert.Equal(t, 1.0, Clamp(3, 0, 1))
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))
}
