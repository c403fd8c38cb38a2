package dxf

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// codepages maps $DWGCODEPAGE values to decoders for pre-2007 files.
var codepages = map[string]encoding.Encoding{
	"ANSI_936":  simplifiedchinese.GBK,
	"ANSI_950":  traditionalchinese.Big5,
	"ANSI_932":  japanese.ShiftJIS,
	"ANSI_949":  korean.EUCKR,
	"ANSI_1250": charmap.Windows1250,
	"ANSI_1251": charmap.Windows1251,
	"ANSI_1252": charmap.Windows1252,
}

// fallbackEncoding decodes non-UTF-8 strings in files that do not
// declare a known code page.
var fallbackEncoding encoding.Encoding = simplifiedchinese.GB18030

// decodeString converts a raw DXF string value to UTF-8 and expands
// \U+XXXX escapes.
func decodeString(s string, enc encoding.Encoding) string {
	if !utf8.ValidString(s) {
		if enc == nil {
			enc = fallbackEncoding
		}
		out, err := enc.NewDecoder().String(s)
		if err != nil {
			out = strings.ToValidUTF8(s, "?")
		}
		s = out
	}
	return expandUnicodeEscapes(s)
}

func expandUnicodeEscapes(s string) string {
	if !strings.Contains(s, `\U+`) && !strings.Contains(s, `\u+`) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if i+7 <= len(s) && s[i] == '\\' && (s[i+1] == 'U' || s[i+1] == 'u') && s[i+2] == '+' {
			if v, err := strconv.ParseUint(s[i+3:i+7], 16, 32); err == nil {
				b.WriteRune(rune(v))
				i += 7
				continue
			}
		}
		b.WriteByte(s[i])
		i++
	}
	return b.String()
}

// specialChars are the %% control codes of single-line TEXT.
var specialChars = strings.NewReplacer(
	"%%c", "Ø", "%%C", "Ø",
	"%%d", "°", "%%D", "°",
	"%%p", "±", "%%P", "±",
	"%%%", "%",
	"%%u", "", "%%U", "",
	"%%o", "", "%%O", "",
)

// plainText resolves TEXT control codes.
func plainText(s string) string {
	if !strings.Contains(s, "%%") {
		return s
	}
	return specialChars.Replace(s)
}

// plainMText strips MTEXT inline formatting and returns the visible text.
// Paragraph breaks become newlines and stacked fractions become a/b.
func plainMText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '{', '}':
			continue
		case '\\':
		default:
			b.WriteByte(c)
			continue
		}
		if i+1 >= len(s) {
			break
		}
		i++
		switch code := s[i]; code {
		case 'P', 'X':
			b.WriteByte('\n')
		case '~':
			b.WriteByte(' ')
		case '\\', '{', '}':
			b.WriteByte(code)
		case 'L', 'l', 'O', 'o', 'K', 'k':
			// underline, overline and strike toggles
		case 'S':
			end := strings.IndexByte(s[i+1:], ';')
			if end < 0 {
				continue
			}
			frac := s[i+1 : i+1+end]
			frac = strings.NewReplacer("^", "/", "#", "/").Replace(frac)
			b.WriteString(strings.TrimSpace(frac))
			i += end + 1
		case 'A', 'C', 'c', 'F', 'f', 'H', 'Q', 'T', 'W', 'p':
			if end := strings.IndexByte(s[i+1:], ';'); end >= 0 {
				i += end + 1
			}
		default:
			b.WriteByte('\\')
			b.WriteByte(code)
		}
	}
	return plainText(b.String())
}
