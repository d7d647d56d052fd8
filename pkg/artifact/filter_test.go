package artifact

import (
	"testing"

	"github.com/LambdaTest/flakewatch/pkg/core"
	"github.com/stretchr/testify/assert"
)

func names(artifacts []*core.Artifact) []string {
	out := make([]string, 0, len(artifacts))
	for _, a := range artifacts {
		out = append(out, a.Name)
	}
	return out
}

func TestFilterSelect(t *testing.T) {
	artifacts := []*core.Artifact{
		{ID: "1", Name: "JUnit-Results", SizeBytes: 10},
		{ID: "2", Name: "coverage", SizeBytes: 10},
		{ID: "3", Name: "test-reports.zip", SizeBytes: 10, Expired: true},
		{ID: "4", Name: "test-big", SizeBytes: 1000},
		{ID: "5", Name: "report-empty", SizeBytes: 0},
		{ID: "6", Name: "unit/report.xml", SizeBytes: 5},
	}
	tests := []struct {
		name     string
		patterns []string
		override []string
		want     []string
	}{
		{"substring case insensitive", []string{"junit", "report"}, nil, []string{"JUnit-Results", "unit/report.xml"}},
		{"glob", []string{"**/*.xml"}, nil, []string{"unit/report.xml"}},
		{"override wins", []string{"junit"}, []string{"cov*"}, []string{"coverage"}},
		{"no patterns matches all eligible", nil, nil, []string{"JUnit-Results", "coverage", "unit/report.xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFilter(100, tt.patterns)
			assert.Equal(t, tt.want, names(f.Select(artifacts, tt.override)))
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name, pattern string
		want          bool
	}{
		{"test-results", "results", true},
		{"test-results", "", false},
		{"test-results", "test-*", true},
		{"a/b/c.xml", "**/*.xml", true},
		{"a/b/c.json", "**/*.xml", false},
		{"junit", "[", false},
	}
	for _, tt := range tests {
		t.Run(tt.name+"~"+tt.pattern, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.name, tt.pattern))
		})
	}
}
