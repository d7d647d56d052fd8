package junit

import (
	"bytes"
	"strings"
	"testing"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/jstemmer/go-junit-report/v2/junit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, report string) ([]*core.TestSuiteResult, error) {
	t.Helper()
	var suites []*core.TestSuiteResult
	err := Parse(strings.NewReader(report), func(s *core.TestSuiteResult) error {
		suites = append(suites, s)
		return nil
	})
	return suites, err
}

func fixture(t *testing.T, suites ...junit.Testsuite) string {
	t.Helper()
	var doc junit.Testsuites
	for _, s := range suites {
		doc.AddSuite(s)
	}
	var buf bytes.Buffer
	require.NoError(t, doc.WriteXML(&buf))
	return buf.String()
}

func TestParseStatusPrecedence(t *testing.T) {
	suite := junit.Testsuite{Name: "pkg/api", Time: "1.5"}
	suite.AddTestcase(junit.Testcase{Name: "TestPass", Classname: "api", Time: "0.25"})
	suite.AddTestcase(junit.Testcase{Name: "TestFail", Classname: "api", Time: "1.2",
		Failure: &junit.Result{Message: "expected 1 got 2", Data: "api_test.go:10\nmore"}})
	suite.AddTestcase(junit.Testcase{Name: "TestErr", Classname: "api",
		Error: &junit.Result{Message: "panic: nil map"}})
	suite.AddTestcase(junit.Testcase{Name: "TestSkip", Classname: "api",
		Skipped: &junit.Result{Message: "short mode"}})
	suite.AddTestcase(junit.Testcase{Name: "TestSkipAndFail", Classname: "api",
		Skipped: &junit.Result{Message: "skip"}, Failure: &junit.Result{Message: "boom"}})

	suites, err := collect(t, fixture(t, suite))
	require.NoError(t, err)
	require.Len(t, suites, 1)
	got := suites[0]
	assert.Equal(t, "pkg/api", got.Name)
	assert.Equal(t, int64(1500), got.DurationMS)
	require.Len(t, got.Cases, 5)

	tests := []struct {
		name       string
		status     core.OccurrenceStatus
		durationMS int64
		message    string
	}{
		{"TestPass", core.OccurrencePassed, 250, ""},
		{"TestFail", core.OccurrenceFailed, 1200, "expected 1 got 2"},
		{"TestErr", core.OccurrenceError, 0, "panic: nil map"},
		{"TestSkip", core.OccurrenceSkipped, 0, "short mode"},
		{"TestSkipAndFail", core.OccurrenceFailed, 0, "boom"},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := got.Cases[i]
			assert.Equal(t, tt.name, tc.Name)
			assert.Equal(t, "pkg/api", tc.SuiteName)
			assert.Equal(t, tt.status, tc.Status)
			assert.Equal(t, tt.durationMS, tc.DurationMS)
			assert.Equal(t, tt.message, tc.Message)
		})
	}
	assert.Equal(t, "api_test.go:10\nmore", got.Cases[1].Stack)
}

func TestParseBareAndNestedSuites(t *testing.T) {
	bare := `<?xml version="1.0"?>
<testsuite name="outer" tests="1" time="abc">
  <testcase name="A" classname="x" time="not-a-number"/>
  <testsuite name="inner">
    <testcase name="B" classname="x" time="0.001"/>
  </testsuite>
</testsuite>`
	suites, err := collect(t, bare)
	require.NoError(t, err)
	require.Len(t, suites, 2)
	assert.Equal(t, "inner", suites[0].Name)
	assert.Equal(t, "outer", suites[1].Name)
	assert.Equal(t, int64(0), suites[1].DurationMS)
	assert.Equal(t, int64(0), suites[1].Cases[0].DurationMS)
	assert.Equal(t, int64(1), suites[0].Cases[0].DurationMS)
	assert.Equal(t, "inner", suites[0].Cases[0].SuiteName)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name   string
		report string
	}{
		{"truncated", `<testsuites><testsuite name="a"><testcase name="x">`},
		{"wrong root", `<html><body/></html>`},
		{"empty", ``},
		{"garbage", `not xml at all <<<`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := collect(t, tt.report)
			require.Error(t, err)
			assert.Equal(t, errs.CodeReportMalformed, errs.CodeOf(err))
		})
	}
}

func TestParseCapsText(t *testing.T) {
	huge := strings.Repeat("x", MaxTextBytes*2)
	report := `<testsuite name="s"><testcase name="t"><failure message="m">` + huge + `</failure></testcase></testsuite>`
	suites, err := collect(t, report)
	require.NoError(t, err)
	assert.Len(t, suites[0].Cases[0].Stack, MaxTextBytes)
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input   string
		name    string
		attempt int
	}{
		{"TestSomething (retry 1)", "TestSomething", 1},
		{"TestSomething  (retry 5)", "TestSomething", 5},
		{"TestSomething", "TestSomething", 0},
		{"TestRetry", "TestRetry", 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			name, attempt := NormalizeName(tt.input)
			assert.Equal(t, tt.name, name)
			assert.Equal(t, tt.attempt, attempt)
		})
	}
}
