package extractor

import (
	"bytes"
	"strings"
)

// Format is an archive or report container format detected from leading bytes.
type Format int

// Format values.
const (
	FormatUnknown Format = iota
	FormatZip
	FormatGzip
	FormatZstd
	FormatTar
	FormatXML
)

const sniffLen = 512

var (
	zipMagic      = []byte("PK\x03\x04")
	zipEmptyMagic = []byte("PK\x05\x06")
	gzipMagic     = []byte{0x1f, 0x8b}
	zstdMagic     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	utf8BOM       = []byte{0xef, 0xbb, 0xbf}
)

func (f Format) String() string {
	switch f {
	case FormatZip:
		return "zip"
	case FormatGzip:
		return "gzip"
	case FormatZstd:
		return "zstd"
	case FormatTar:
		return "tar"
	case FormatXML:
		return "xml"
	default:
		return "unknown"
	}
}

// Detect returns the format of content starting with head.
func Detect(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, zipMagic), bytes.HasPrefix(head, zipEmptyMagic):
		return FormatZip
	case bytes.HasPrefix(head, gzipMagic):
		return FormatGzip
	case bytes.HasPrefix(head, zstdMagic):
		return FormatZstd
	case isTar(head):
		return FormatTar
	case isXML(head):
		return FormatXML
	}
	return FormatUnknown
}

func isTar(head []byte) bool {
	const magicOffset = 257
	return len(head) >= magicOffset+5 && string(head[magicOffset:magicOffset+5]) == "ustar"
}

func isXML(head []byte) bool {
	head = bytes.TrimPrefix(head, utf8BOM)
	head = bytes.TrimLeft(head, " \t\r\n")
	return len(head) > 0 && head[0] == '<'
}

// isReportEntry reports whether an archive entry name looks like an xml report.
func isReportEntry(name string) bool {
	return strings.EqualFold(pathExt(name), ".xml")
}

// isArchiveEntry reports whether an archive entry name looks like a nested archive.
func isArchiveEntry(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range []string{".zip", ".tar.gz", ".tgz", ".tar.zst", ".tzst", ".tar", ".gz", ".zst"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

func pathExt(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 && !strings.ContainsAny(name[i:], "/\\") {
		return name[i:]
	}
	return ""
}
