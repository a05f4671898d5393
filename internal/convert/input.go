package convert

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/text/encoding/charmap"
)

// Delimiter separates fields in dsdgen output.
const Delimiter = '|'

// RawFile is one delimited text file produced by the generator.
type RawFile struct {
	Path  string
	Table string
	Size  int64
}

// Compressed reports whether the file is gzip compressed.
func (f RawFile) Compressed() bool {
	return strings.HasSuffix(f.Path, ".gz")
}

// TableName derives the table name from a file name: everything up to the first dot.
func TableName(path string) string {
	base := filepath.Base(path)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		return base[:i]
	}
	return base
}

// IsRawFile reports whether name is a generator output (.dat or .dat.gz).
func IsRawFile(name string) bool {
	return strings.HasSuffix(name, ".dat") || strings.HasSuffix(name, ".dat.gz")
}

// ListRawFiles returns the .dat and .dat.gz files in dir sorted by name.
// A missing directory yields no files.
func ListRawFiles(dir string) ([]RawFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var files []RawFile
	for _, e := range entries {
		if e.IsDir() || !IsRawFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", e.Name(), err)
		}
		files = append(files, RawFile{
			Path:  filepath.Join(dir, e.Name()),
			Table: TableName(e.Name()),
			Size:  info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// rawReader streams decoded lines of a raw file. UTF-8 input with invalid
// bytes has them replaced with U+FFFD so the Parquet output stays readable.
type rawReader struct {
	file   *os.File
	gz     *gzip.Reader
	lines  *bufio.Reader
	latin1 bool

	replaced int64 // lines that contained invalid UTF-8
}

func openRaw(f RawFile, encoding string) (*rawReader, error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", f.Path, err)
	}

	rr := &rawReader{file: file}
	var r io.Reader = file
	if f.Compressed() {
		gz, err := gzip.NewReader(file)
		if err != nil {
			file.Close()
			return nil, fmt.Errorf("failed to open gzip stream %s: %w", f.Path, err)
		}
		rr.gz = gz
		r = gz
	}
	if isLatin1(encoding) {
		rr.latin1 = true
		r = charmap.ISO8859_1.NewDecoder().Reader(r)
	}
	rr.lines = bufio.NewReaderSize(r, 1<<20)
	return rr, nil
}

// next returns the next line without its line terminator. io.EOF is returned
// once no data remains.
func (r *rawReader) next() (string, error) {
	line, err := r.lines.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if !r.latin1 && !utf8.ValidString(line) {
		line = strings.ToValidUTF8(line, "\uFFFD")
		r.replaced++
	}
	return line, nil
}

func (r *rawReader) Close() error {
	if r.gz != nil {
		r.gz.Close()
	}
	return r.file.Close()
}

func isLatin1(encoding string) bool {
	switch strings.ToLower(encoding) {
	case "latin1", "latin-1", "iso-8859-1":
		return true
	}
	return false
}

// splitFields splits a raw line on the delimiter.
func splitFields(line string) []string {
	return strings.Split(line, string(Delimiter))
}
