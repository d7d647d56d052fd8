// Package extractor streams test reports out of CI artifact archives.
package extractor

import (
	"archive/tar"
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/LambdaTest/flakewatch/pkg/core"
	errs "github.com/LambdaTest/flakewatch/pkg/errors"
	"github.com/LambdaTest/flakewatch/pkg/junit"
	"github.com/LambdaTest/flakewatch/pkg/lumber"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
)

var errEntryTooLarge = errors.New("entry exceeds decompressed size limit")

// Limits bounds the work done for a single artifact.
type Limits struct {
	MaxEntries    int
	MaxEntryBytes int64
	MaxTotalBytes int64
	MaxDepth      int
}

// Result summarizes the extraction of one artifact.
type Result struct {
	Entries  int
	Reports  int
	Warnings []core.ReportIssue
}

// Extractor decodes artifacts spilled to an afero filesystem.
type Extractor struct {
	fs      afero.Fs
	tempDir string
	limits  Limits
	logger  lumber.Logger
}

// New returns an Extractor writing nested archives to tempDir on fs.
func New(fs afero.Fs, tempDir string, limits Limits, logger lumber.Logger) *Extractor {
	return &Extractor{fs: fs, tempDir: tempDir, limits: limits, logger: logger}
}

type source interface {
	io.Reader
	io.ReaderAt
	io.Seeker
}

// session is the state of extracting a single artifact.
type session struct {
	artifact string
	visit    junit.SuiteVisitor
	total    int64
	result   *Result
}

// Extract walks the artifact stored at path and hands every parsed suite to visit. A malformed
// report is recorded as a warning, a malformed archive fails the artifact.
func (e *Extractor) Extract(ctx context.Context, artifact, path string, visit junit.SuiteVisitor) (*Result, error) {
	f, err := e.fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	s := &session{artifact: artifact, visit: visit, result: &Result{}}
	if err := e.extractFile(ctx, s, f, info.Size(), artifact, 0); err != nil {
		return s.result, err
	}
	return s.result, nil
}

func (e *Extractor) extractFile(ctx context.Context, s *session, f source, size int64, name string, depth int) error {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	head := make([]byte, sniffLen)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	switch format := Detect(head[:n]); format {
	case FormatZip:
		return e.extractZip(ctx, s, f, size, depth)
	case FormatGzip:
		gz, err := gzip.NewReader(f)
		if err != nil {
			return errs.Wrap(err, errs.CodeArtifactMalformed, "invalid gzip stream")
		}
		defer gz.Close()
		return e.extractStream(ctx, s, gz, trimCompressionExt(name), depth)
	case FormatZstd:
		zr, err := zstd.NewReader(f)
		if err != nil {
			return errs.Wrap(err, errs.CodeArtifactMalformed, "invalid zstd stream")
		}
		defer zr.Close()
		return e.extractStream(ctx, s, zr, trimCompressionExt(name), depth)
	case FormatTar:
		return e.extractTar(ctx, s, f, depth)
	case FormatXML:
		return e.parseReport(ctx, s, name, f)
	default:
		return errs.ErrUnsupportedArchive
	}
}

// extractStream handles the decompressed content of a gzip or zstd container.
func (e *Extractor) extractStream(ctx context.Context, s *session, r io.Reader, name string, depth int) error {
	br := bufio.NewReaderSize(r, sniffLen)
	head, err := br.Peek(sniffLen)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return errs.Wrap(err, errs.CodeArtifactMalformed, "invalid compressed stream")
	}
	switch Detect(head) {
	case FormatTar:
		return e.extractTar(ctx, s, &capReader{r: br, left: e.limits.MaxTotalBytes}, depth)
	case FormatXML:
		return e.parseReport(ctx, s, name, br)
	case FormatZip:
		return e.nested(ctx, s, name, br, depth)
	default:
		return errs.ErrUnsupportedArchive
	}
}

func (e *Extractor) extractZip(ctx context.Context, s *session, f io.ReaderAt, size int64, depth int) error {
	zr, err := zip.NewReader(f, size)
	if err != nil {
		return errs.Wrap(err, errs.CodeArtifactMalformed, "invalid zip archive")
	}
	for _, entry := range zr.File {
		if entry.FileInfo().IsDir() {
			continue
		}
		if err := e.enterEntry(ctx, s); err != nil {
			return err
		}
		if entry.UncompressedSize64 > uint64(e.limits.MaxEntryBytes) {
			s.warn(entry.Name, errEntryTooLarge.Error())
			continue
		}
		if !isReportEntry(entry.Name) && !isArchiveEntry(entry.Name) {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			s.warn(entry.Name, fmt.Sprintf("unreadable entry: %v", err))
			continue
		}
		err = e.handleEntry(ctx, s, entry.Name, rc, depth)
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Extractor) extractTar(ctx context.Context, s *session, r io.Reader, depth int) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if errors.Is(err, errs.ErrArchiveLimits) {
				return err
			}
			return errs.Wrap(err, errs.CodeArtifactMalformed, "invalid tar archive")
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if err := e.enterEntry(ctx, s); err != nil {
			return err
		}
		if hdr.Size > e.limits.MaxEntryBytes {
			s.warn(hdr.Name, errEntryTooLarge.Error())
			continue
		}
		if !isReportEntry(hdr.Name) && !isArchiveEntry(hdr.Name) {
			continue
		}
		if err := e.handleEntry(ctx, s, hdr.Name, tr, depth); err != nil {
			return err
		}
	}
}

func (e *Extractor) enterEntry(ctx context.Context, s *session) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.result.Entries++
	if s.result.Entries > e.limits.MaxEntries {
		return errs.ErrArchiveLimits
	}
	return nil
}

func (e *Extractor) handleEntry(ctx context.Context, s *session, name string, r io.Reader, depth int) error {
	if isReportEntry(name) {
		return e.parseReport(ctx, s, name, r)
	}
	return e.nested(ctx, s, name, r, depth)
}

// nested spills an inner archive to a scoped temp file and extracts it one level deeper.
func (e *Extractor) nested(ctx context.Context, s *session, name string, r io.Reader, depth int) error {
	if depth+1 > e.limits.MaxDepth {
		s.warn(name, "nested archive exceeds maximum depth")
		return nil
	}
	tmp, err := afero.TempFile(e.fs, e.tempDir, "fw-nested-*")
	if err != nil {
		return err
	}
	defer func() {
		tmp.Close()
		if rerr := e.fs.Remove(tmp.Name()); rerr != nil {
			e.logger.Warnf("failed to remove temp file %s, error: %v", tmp.Name(), rerr)
		}
	}()
	size, err := io.Copy(tmp, e.limit(s, r))
	if err != nil {
		if errors.Is(err, errs.ErrArchiveLimits) {
			return err
		}
		s.warn(name, fmt.Sprintf("unreadable nested archive: %v", err))
		return nil
	}
	if err := e.extractFile(ctx, s, tmp, size, name, depth+1); err != nil {
		if errors.Is(err, errs.ErrArchiveLimits) || ctx.Err() != nil {
			return err
		}
		s.warn(name, fmt.Sprintf("nested archive skipped: %v", err))
	}
	return nil
}

// parseReport parses a single report, suites are only handed over once the whole report parsed.
func (e *Extractor) parseReport(ctx context.Context, s *session, name string, r io.Reader) error {
	var suites []*core.TestSuiteResult
	err := junit.Parse(e.limit(s, r), func(suite *core.TestSuiteResult) error {
		suites = append(suites, suite)
		return nil
	})
	if err != nil {
		if errors.Is(err, errs.ErrArchiveLimits) || ctx.Err() != nil {
			return err
		}
		s.warn(name, err.Error())
		return nil
	}
	for _, suite := range suites {
		if err := s.visit(suite); err != nil {
			return err
		}
	}
	s.result.Reports++
	return nil
}

func (e *Extractor) limit(s *session, r io.Reader) io.Reader {
	return &limitedReader{r: r, s: s, maxEntry: e.limits.MaxEntryBytes, maxTotal: e.limits.MaxTotalBytes}
}

func (s *session) warn(entry, reason string) {
	s.result.Warnings = append(s.result.Warnings, core.ReportIssue{Artifact: s.artifact, Entry: entry, Reason: reason})
}

// limitedReader enforces the per entry and per artifact decompressed size limits.
type limitedReader struct {
	r        io.Reader
	s        *session
	read     int64
	maxEntry int64
	maxTotal int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	remaining := l.maxEntry - l.read
	if remaining < 0 {
		return 0, errEntryTooLarge
	}
	if int64(len(p)) > remaining+1 {
		p = p[:remaining+1]
	}
	n, err := l.r.Read(p)
	l.read += int64(n)
	l.s.total += int64(n)
	if l.s.total > l.maxTotal {
		return n, errs.ErrArchiveLimits
	}
	if l.read > l.maxEntry {
		return n, errEntryTooLarge
	}
	return n, err
}

// capReader bounds the decompressed size of a whole container stream.
type capReader struct {
	r    io.Reader
	left int64
}

func (c *capReader) Read(p []byte) (int, error) {
	if c.left <= 0 {
		return 0, errs.ErrArchiveLimits
	}
	if int64(len(p)) > c.left {
		p = p[:c.left]
	}
	n, err := c.r.Read(p)
	c.left -= int64(n)
	return n, err
}

func trimCompressionExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".gz", ".zst", ".tgz", ".tzst"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
