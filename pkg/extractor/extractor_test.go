package extractor

import (
	"archive/tar"
	"bytes"
	"context"
	"testing"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/jstemmer/go-junit-report/v2/junit"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const malformedReport = `<testsuites><testsuite name="broken"><testcase name="x">`

func testLimits() Limits {
	return Limits{MaxEntries: 100, MaxEntryBytes: 1 << 20, MaxTotalBytes: 4 << 20, MaxDepth: 2}
}

func report(t *testing.T, name string, passed, failed int) []byte {
	t.Helper()
	suite := junit.Testsuite{Name: name}
	for i := 0; i < passed; i++ {
		suite.AddTestcase(junit.Testcase{Name: "TestPass" + string(rune('A'+i)), Classname: name, Time: "0.1"})
	}
	for i := 0; i < failed; i++ {
		suite.AddTestcase(junit.Testcase{Name: "TestFail" + string(rune('A'+i)), Classname: name,
			Failure: &junit.Result{Message: "boom"}})
	}
	var doc junit.Testsuites
	doc.AddSuite(suite)
	var buf bytes.Buffer
	require.NoError(t, doc.WriteXML(&buf))
	return buf.Bytes()
}

func zipOf(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func tarOf(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, data := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0o600, Size: int64(len(data)), Typeflag: tar.TypeReg}))
		_, err := tw.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func gzipOf(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write(data)
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func zstdOf(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func run(t *testing.T, limits Limits, content []byte) (*Result, []*core.TestSuiteResult, error) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/tmp", 0o755))
	require.NoError(t, afero.WriteFile(fs, "/tmp/artifact", content, 0o600))
	var suites []*core.TestSuiteResult
	ex := New(fs, "/tmp", limits, lumber.NewNoop())
	res, err := ex.Extract(context.Background(), "results.zip", "/tmp/artifact", func(s *core.TestSuiteResult) error {
		suites = append(suites, s)
		return nil
	})
	files, rerr := afero.ReadDir(fs, "/tmp")
	require.NoError(t, rerr)
	assert.Len(t, files, 1, "nested temp files must be removed")
	return res, suites, err
}

func countCases(suites []*core.TestSuiteResult) int {
	total := 0
	for _, s := range suites {
		total += len(s.Cases)
	}
	return total
}

func TestExtractFormats(t *testing.T) {
	valid := report(t, "suite", 3, 1)
	tests := []struct {
		name    string
		content []byte
	}{
		{"bare xml", valid},
		{"zip", zipOf(t, map[string][]byte{"reports/junit.xml": valid, "README.md": []byte("ignored")})},
		{"tar.gz", gzipOf(t, tarOf(t, map[string][]byte{"junit.xml": valid}))},
		{"tar.zst", zstdOf(t, tarOf(t, map[string][]byte{"junit.xml": valid}))},
		{"gzip xml", gzipOf(t, valid)},
		{"nested zip", zipOf(t, map[string][]byte{"inner.zip": zipOf(t, map[string][]byte{"junit.xml": valid})})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, suites, err := run(t, testLimits(), tt.content)
			require.NoError(t, err)
			assert.Equal(t, 1, res.Reports)
			assert.Empty(t, res.Warnings)
			assert.Equal(t, 4, countCases(suites))
		})
	}
}

func TestExtractMalformedReportIsWarning(t *testing.T) {
	content := zipOf(t, map[string][]byte{
		"bad.xml":  []byte(malformedReport),
		"good.xml": report(t, "suite", 3, 1),
	})
	res, suites, err := run(t, testLimits(), content)
	require.NoError(t, err)
	assert.Equal(t, 4, countCases(suites))
	assert.Equal(t, 1, res.Reports)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "bad.xml", res.Warnings[0].Entry)
	assert.Equal(t, "results.zip", res.Warnings[0].Artifact)
}

func TestExtractMalformedArchive(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		code    errs.Code
	}{
		{"truncated zip", zipOf(t, map[string][]byte{"a.xml": []byte("<x/>")})[:10], errs.CodeArtifactMalformed},
		{"binary", []byte{0x00, 0x01, 0x02, 0x03}, errs.CodeArtifactMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := run(t, testLimits(), tt.content)
			require.Error(t, err)
			assert.Equal(t, tt.code, errs.CodeOf(err))
		})
	}
}

func TestExtractLimits(t *testing.T) {
	valid := report(t, "suite", 1, 0)

	limits := testLimits()
	limits.MaxEntries = 2
	_, _, err := run(t, limits, zipOf(t, map[string][]byte{"a.xml": valid, "b.xml": valid, "c.xml": valid}))
	assert.ErrorIs(t, err, errs.ErrArchiveLimits)

	limits = testLimits()
	limits.MaxEntryBytes = 16
	res, suites, err := run(t, limits, zipOf(t, map[string][]byte{"a.xml": valid}))
	require.NoError(t, err)
	assert.Empty(t, suites)
	assert.Len(t, res.Warnings, 1)

	limits = testLimits()
	limits.MaxDepth = 0
	res, _, err = run(t, limits, zipOf(t, map[string][]byte{"inner.zip": zipOf(t, map[string][]byte{"a.xml": valid})}))
	require.NoError(t, err)
	assert.Equal(t, 0, res.Reports)
	assert.Len(t, res.Warnings, 1)
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name string
		head []byte
		want Format
	}{
		{"zip", []byte("PK\x03\x04rest"), FormatZip},
		{"gzip", []byte{0x1f, 0x8b, 0x08}, FormatGzip},
		{"zstd", []byte{0x28, 0xb5, 0x2f, 0xfd, 0x00}, FormatZstd},
		{"xml with bom", append([]byte{0xef, 0xbb, 0xbf}, []byte("  <?xml?>")...), FormatXML},
		{"text", []byte("hello"), FormatUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Detect(tt.head))
		})
	}
}
