// Package junit implements a streaming parser for JUnit style XML test reports.
package junit

import (
	"encoding/xml"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
)

// MaxTextBytes caps the failure message and stack text retained per test case.
const MaxTextBytes = 64 << 10

var retryRegex = regexp.MustCompile(`\s*\(retry (\d+)\)$`)

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"}

// SuiteVisitor receives every suite once its closing element has been read.
type SuiteVisitor func(suite *core.TestSuiteResult) error

// Parse streams the report from r and calls visit for every <testsuite>. It accepts a <testsuites>
// root, a bare <testsuite> root and nested suites. Only the suite currently open is held in memory.
func Parse(r io.Reader, visit SuiteVisitor) error {
	d := xml.NewDecoder(r)
	d.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }
	p := &parser{visit: visit}
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errs.Wrap(err, errs.CodeReportMalformed, "invalid report xml")
		}
		if err := p.handle(tok); err != nil {
			return err
		}
	}
	if !p.sawRoot {
		return errs.NewWithCode(errs.CodeReportMalformed, "report has no testsuites or testsuite root")
	}
	return nil
}

// parser is the explicit state of one streaming parse.
type parser struct {
	visit   SuiteVisitor
	sawRoot bool
	depth   int
	suites  []*core.TestSuiteResult
	current *core.TestCaseResult
	// result is the failure, error or skipped element currently open.
	result string
	text   textBuffer
}

func (p *parser) handle(tok xml.Token) error {
	switch t := tok.(type) {
	case xml.StartElement:
		p.depth++
		return p.start(t)
	case xml.EndElement:
		p.depth--
		return p.end(t)
	case xml.CharData:
		if p.current != nil && p.result != "" {
			p.text.Write(t)
		}
	}
	return nil
}

func (p *parser) start(el xml.StartElement) error {
	name := el.Name.Local
	if p.depth == 1 {
		if name != "testsuites" && name != "testsuite" {
			return errs.NewWithCode(errs.CodeReportMalformed, "unexpected root element "+name)
		}
		p.sawRoot = true
	}
	switch name {
	case "testsuite":
		p.suites = append(p.suites, newSuite(el.Attr))
	case "testcase":
		if len(p.suites) == 0 {
			p.suites = append(p.suites, &core.TestSuiteResult{})
		}
		p.current = newCase(p.suites[len(p.suites)-1].Name, el.Attr)
	case "failure", "error", "skipped":
		if p.current == nil {
			return nil
		}
		p.result = name
		p.text.Reset()
		applyResult(p.current, name, attr(el.Attr, "message"))
	}
	return nil
}

func (p *parser) end(el xml.EndElement) error {
	switch el.Name.Local {
	case "failure", "error", "skipped":
		if p.current != nil && p.result == el.Name.Local {
			if p.current.Stack == "" && (p.result == "failure" || p.result == "error") {
				p.current.Stack = strings.TrimSpace(p.text.String())
			}
			p.result = ""
		}
	case "testcase":
		if p.current == nil {
			return nil
		}
		if p.current.Status == "" {
			p.current.Status = core.OccurrencePassed
		}
		if p.current.Message == "" && p.current.Stack != "" {
			p.current.Message = firstLine(p.current.Stack)
		}
		suite := p.suites[len(p.suites)-1]
		suite.Cases = append(suite.Cases, p.current)
		p.current = nil
	case "testsuite":
		return p.closeSuite()
	case "testsuites":
		// a bare testcase under <testsuites> lives in the implicit suite
		if len(p.suites) > 0 {
			return p.closeSuite()
		}
	}
	return nil
}

func (p *parser) closeSuite() error {
	if len(p.suites) == 0 {
		return nil
	}
	suite := p.suites[len(p.suites)-1]
	p.suites = p.suites[:len(p.suites)-1]
	return p.visit(suite)
}

// applyResult applies the status precedence: failure/error beat skipped beat passed, first failure wins.
func applyResult(tc *core.TestCaseResult, element, message string) {
	switch element {
	case "failure", "error":
		if tc.Status == core.OccurrenceFailed || tc.Status == core.OccurrenceError {
			return
		}
		tc.Status = core.OccurrenceFailed
		if element == "error" {
			tc.Status = core.OccurrenceError
		}
		tc.Message = truncate(message, MaxTextBytes)
		tc.Stack = ""
	case "skipped":
		if tc.Status == "" {
			tc.Status = core.OccurrenceSkipped
			tc.Message = truncate(message, MaxTextBytes)
		}
	}
}

func newSuite(attrs []xml.Attr) *core.TestSuiteResult {
	return &core.TestSuiteResult{
		Name:       attr(attrs, "name"),
		Timestamp:  parseTimestamp(attr(attrs, "timestamp")),
		DurationMS: parseSeconds(attr(attrs, "time")),
		Tests:      parseInt(attr(attrs, "tests")),
		Failures:   parseInt(attr(attrs, "failures")),
		Errors:     parseInt(attr(attrs, "errors")),
		Skipped:    parseInt(attr(attrs, "skipped")),
	}
}

func newCase(suiteName string, attrs []xml.Attr) *core.TestCaseResult {
	name, attempt := NormalizeName(attr(attrs, "name"))
	return &core.TestCaseResult{
		SuiteName:  suiteName,
		ClassName:  attr(attrs, "classname"),
		Name:       name,
		File:       attr(attrs, "file"),
		DurationMS: parseSeconds(attr(attrs, "time")),
		Attempt:    attempt,
	}
}

// NormalizeName strips a trailing "(retry N)" suffix and returns the retry index.
func NormalizeName(name string) (string, int) {
	m := retryRegex.FindStringSubmatch(name)
	if m == nil {
		return strings.TrimSpace(name), 0
	}
	attempt, err := strconv.Atoi(m[1])
	if err != nil {
		attempt = 0
	}
	return strings.TrimSpace(name[:len(name)-len(m[0])]), attempt
}

func attr(attrs []xml.Attr, name string) string {
	for _, a := range attrs {
		if a.Name.Local == name {
			return strings.TrimSpace(a.Value)
		}
	}
	return ""
}

// parseSeconds converts a duration in seconds to milliseconds, unparsable or negative values yield 0.
func parseSeconds(s string) int64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return int64(math.Round(v * 1000))
}

func parseInt(s string) int {
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0
	}
	return v
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// textBuffer accumulates character data up to MaxTextBytes and drops the rest.
type textBuffer struct {
	b strings.Builder
}

func (t *textBuffer) Write(data []byte) {
	remaining := MaxTextBytes - t.b.Len()
	if remaining <= 0 {
		return
	}
	if len(data) > remaining {
		data = data[:remaining]
	}
	t.b.Write(data)
}

func (t *textBuffer) String() string { return t.b.String() }

func (t *textBuffer) Reset() { t.b.Reset() }
