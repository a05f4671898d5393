package convert

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"unicode/utf8"
)

// encodingSampleSize is how much of each file CheckEncodings inspects.
const encodingSampleSize = 10000

// Encoding names reported by DetectEncoding.
const (
	EncodingASCII  = "ascii"
	EncodingUTF8   = "utf-8"
	EncodingLatin1 = "iso-8859-1"
)

// DetectEncoding classifies a byte sample as ascii, utf-8 or iso-8859-1.
// A multi-byte sequence cut off at the end of the sample still counts as utf-8.
func DetectEncoding(sample []byte) string {
	ascii := true
	for i := 0; i < len(sample); {
		b := sample[i]
		if b < utf8.RuneSelf {
			i++
			continue
		}
		ascii = false
		r, size := utf8.DecodeRune(sample[i:])
		if r == utf8.RuneError && size == 1 {
			if !utf8.FullRune(sample[i:]) {
				break
			}
			return EncodingLatin1
		}
		i += size
	}
	if ascii {
		return EncodingASCII
	}
	return EncodingUTF8
}

// FileEncoding is the detected encoding of one raw file.
type FileEncoding struct {
	Name     string
	Encoding string
}

// CheckEncodings inspects the first bytes of every .dat file in dir.
func CheckEncodings(dir string) ([]FileEncoding, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var result []FileEncoding
	buf := make([]byte, encodingSampleSize)
	for _, e := range entries {
		if e.IsDir() || !IsRawFile(e.Name()) {
			continue
		}
		f := RawFile{Path: filepath.Join(dir, e.Name()), Table: TableName(e.Name())}
		rr, err := openRaw(f, EncodingUTF8)
		if err != nil {
			return result, err
		}
		n, err := io.ReadFull(rr.lines, buf)
		rr.Close()
		if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
			return result, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		result = append(result, FileEncoding{Name: e.Name(), Encoding: DetectEncoding(buf[:n])})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}
