package core

import "time"

// TestCaseResult is one normalized <testcase> parsed from a report.
type TestCaseResult struct {
	SuiteName  string
	ClassName  string
	Name       string
	File       string
	Status     OccurrenceStatus
	DurationMS int64
	Message    string
	Stack      string
	// Attempt is the retry index parsed from a "(retry N)" name suffix.
	Attempt int
}

// TestSuiteResult is one normalized <testsuite> parsed from a report.
type TestSuiteResult struct {
	Name       string
	Timestamp  time.Time
	DurationMS int64
	Tests      int
	Failures   int
	Errors     int
	Skipped    int
	Cases      []*TestCaseResult
}

// ReportIssue is a non fatal problem encountered while extracting or parsing.
type ReportIssue struct {
	Artifact string `json:"artifact"`
	Entry    string `json:"entry,omitempty"`
	Reason   string `json:"reason"`
}
