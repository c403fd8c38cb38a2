// Package dwg detects DWG drawings and converts them to DXF with an
// external converter (ODA File Converter or LibreDWG dwg2dxf).
package dwg

import (
	"bytes"
	"fmt"

	"github.com/ekaya-inc/ekaya-cadcheck/pkg/apperrors"
)

// Guidance is shown to users whose DWG file could not be converted.
// Clients match on the "DWG" and "转换" keywords.
const Guidance = "无法转换 DWG 文件。请在 AutoCAD 中将文件另存为 DXF 格式，" +
	"或安装 ODA File Converter / LibreDWG (dwg2dxf) 后重新上传"

// MagicLen is the number of leading bytes Detect needs.
const MagicLen = 6

// versionNames maps DWG magic to the AutoCAD release that wrote it.
var versionNames = map[string]string{
	"AC1.40": "R1.4",
	"AC1.50": "R2.05",
	"AC2.10": "R2.10",
	"AC1001": "R2.5",
	"AC1002": "R2.6",
	"AC1003": "R9",
	"AC1004": "R10",
	"AC1006": "R10",
	"AC1009": "R11/R12",
	"AC1012": "R13",
	"AC1014": "R14",
	"AC1015": "R2000",
	"AC1018": "R2004",
	"AC1021": "R2007",
	"AC1024": "R2010",
	"AC1027": "R2013",
	"AC1032": "R2018",
}

// Detect reports whether head starts with a DWG version magic and returns
// the release name.
func Detect(head []byte) (string, bool) {
	if len(head) < MagicLen || !bytes.HasPrefix(head, []byte("AC")) {
		return "", false
	}
	magic := string(head[:MagicLen])
	if name, ok := versionNames[magic]; ok {
		return name, true
	}
	for _, c := range head[2:MagicLen] {
		if (c < '0' || c > '9') && c != '.' {
			return "", false
		}
	}
	return magic, true
}

// Unconvertible wraps a conversion failure with the user guidance text.
func Unconvertible(reason string) error {
	if reason == "" {
		return fmt.Errorf("%w: %s", apperrors.ErrUnconvertibleDWG, Guidance)
	}
	return fmt.Errorf("%w: %s (%s)", apperrors.ErrUnconvertibleDWG, Guidance, reason)
}
