package dxf

// valueType is the storage type the DXF reference assigns to a group code range.
type valueType int

const (
	typeString valueType = iota
	typeDouble
	typeInt16
	typeInt32
	typeInt64
	typeBool
	typeBinary
)

// groupType returns the value type of a group code.
// Codes outside any documented range are treated as strings.
func groupType(code int) valueType {
	switch {
	case code >= 0 && code <= 9:
		return typeString
	case code >= 10 && code <= 59:
		return typeDouble
	case code >= 60 && code <= 79:
		return typeInt16
	case code >= 90 && code <= 99:
		return typeInt32
	case code == 100 || code == 101 || code == 102 || code == 105:
		return typeString
	case code >= 110 && code <= 149:
		return typeDouble
	case code >= 160 && code <= 169:
		return typeInt64
	case code >= 170 && code <= 179:
		return typeInt16
	case code >= 210 && code <= 239:
		return typeDouble
	case code >= 270 && code <= 289:
		return typeInt16
	case code >= 290 && code <= 299:
		return typeBool
	case code >= 300 && code <= 309:
		return typeString
	case code >= 310 && code <= 319:
		return typeBinary
	case code >= 320 && code <= 369:
		return typeString
	case code >= 370 && code <= 389:
		return typeInt16
	case code >= 390 && code <= 399:
		return typeString
	case code >= 400 && code <= 409:
		return typeInt16
	case code >= 410 && code <= 419:
		return typeString
	case code >= 420 && code <= 429:
		return typeInt32
	case code >= 430 && code <= 439:
		return typeString
	case code >= 440 && code <= 459:
		return typeInt32
	case code >= 460 && code <= 469:
		return typeDouble
	case code >= 470 && code <= 481:
		return typeString
	case code == 999:
		return typeString
	case code == 1004:
		return typeBinary
	case code >= 1000 && code <= 1009:
		return typeString
	case code >= 1010 && code <= 1059:
		return typeDouble
	case code >= 1060 && code <= 1070:
		return typeInt16
	case code == 1071:
		return typeInt32
	default:
		return typeString
	}
}
