package dxf

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-cadcheck/pkg/dwg"
)

// binarySentinel opens every binary DXF file.
var binarySentinel = []byte("AutoCAD Binary DXF\r\n\x1a\x00")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Tag is one group code / value pair from the DXF stream.
type Tag struct {
	Code  int
	Value string
	// Line is the 1-based line of the group code in ASCII files,
	// or the 1-based tag ordinal in binary files.
	Line int
}

func (t Tag) is(code int, value string) bool {
	return t.Code == code && t.Value == value
}

// tagReader yields tags until io.EOF.
type tagReader interface {
	Next() (Tag, error)
}

// newTagReader sniffs the stream and returns an ASCII or binary reader.
func newTagReader(r io.Reader) (tagReader, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	head, err := br.Peek(len(binarySentinel))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedDXF, err)
	}
	if release, ok := dwg.Detect(head); ok {
		return nil, dwg.Unconvertible(fmt.Sprintf("input is a %s DWG drawing, not DXF", release))
	}
	if bytes.Equal(head, binarySentinel) {
		if _, err := br.Discard(len(binarySentinel)); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedDXF, err)
		}
		return &binaryReader{r: br}, nil
	}
	if bytes.HasPrefix(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return &asciiReader{r: br}, nil
}

// ============================================================================
// ASCII DXF
// ============================================================================

type asciiReader struct {
	r    *bufio.Reader
	line int
}

func (a *asciiReader) readLine() (string, error) {
	s, err := a.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && s != "" {
			err = nil
		} else {
			return "", err
		}
	}
	a.line++
	return strings.TrimRight(s, "\r\n"), nil
}

func (a *asciiReader) Next() (Tag, error) {
	codeLine, err := a.readLine()
	if err != nil {
		return Tag{}, err
	}
	lineNo := a.line

	// Tolerate blank trailing lines after EOF marker or at end of file.
	for strings.TrimSpace(codeLine) == "" {
		codeLine, err = a.readLine()
		if err != nil {
			return Tag{}, err
		}
		lineNo = a.line
	}

	code, err := strconv.Atoi(strings.TrimSpace(codeLine))
	if err != nil {
		return Tag{}, fmt.Errorf("%w: invalid group code %q at line %d", apperrors.ErrMalformedDXF, truncate(codeLine, 32), lineNo)
	}

	value, err := a.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Tag{}, fmt.Errorf("%w: missing value for group code %d at line %d", apperrors.ErrMalformedDXF, code, lineNo)
		}
		return Tag{}, err
	}
	if groupType(code) != typeString {
		value = strings.TrimSpace(value)
	}
	return Tag{Code: code, Value: value, Line: lineNo}, nil
}

// ============================================================================
// Binary DXF (R13 and later: 2-byte little-endian group codes)
// ============================================================================

type binaryReader struct {
	r     *bufio.Reader
	count int
}

func (b *binaryReader) Next() (Tag, error) {
	var code uint16
	if err := binary.Read(b.r, binary.LittleEndian, &code); err != nil {
		if errors.Is(err, io.EOF) {
			return Tag{}, io.EOF
		}
		return Tag{}, b.truncated(err)
	}
	b.count++

	value, err := b.readValue(int(code))
	if err != nil {
		return Tag{}, b.truncated(err)
	}
	return Tag{Code: int(code), Value: value, Line: b.count}, nil
}

func (b *binaryReader) readValue(code int) (string, error) {
	switch groupType(code) {
	case typeDouble:
		var bits uint64
		if err := binary.Read(b.r, binary.LittleEndian, &bits); err != nil {
			return "", err
		}
		return strconv.FormatFloat(math.Float64frombits(bits), 'g', -1, 64), nil
	case typeInt16:
		var v int16
		if err := binary.Read(b.r, binary.LittleEndian, &v); err != nil {
			return "", err
		}
		return strconv.Itoa(int(v)), nil
	case typeInt32:
		var v int32
		if err := binary.Read(b.r, binary.LittleEndian, &v); err != nil {
			return "", err
		}
		return strconv.Itoa(int(v)), nil
	case typeInt64:
		var v int64
		if err := binary.Read(b.r, binary.LittleEndian, &v); err != nil {
			return "", err
		}
		return strconv.FormatInt(v, 10), nil
	case typeBool:
		v, err := b.r.ReadByte()
		if err != nil {
			return "", err
		}
		if v != 0 {
			return "1", nil
		}
		return "0", nil
	case typeBinary:
		n, err := b.r.ReadByte()
		if err != nil {
			return "", err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(b.r, buf); err != nil {
			return "", err
		}
		return strings.ToUpper(hex.EncodeToString(buf)), nil
	default:
		s, err := b.r.ReadString(0)
		if err != nil {
			return "", err
		}
		return strings.TrimSuffix(s, "\x00"), nil
	}
}

func (b *binaryReader) truncated(err error) error {
	return fmt.Errorf("%w: truncated binary stream at tag %d: %v", apperrors.ErrMalformedDXF, b.count, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
