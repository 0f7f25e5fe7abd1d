package chp

import (
	"path"
	"strings"
)

// ObjectType is the CMIS object type an asset is stored as.
type ObjectType string

const (
	Picture  ObjectType = "Picture"
	Compound ObjectType = "Compound"
)

// CMIS properties an asset can be looked up by.
const (
	PropGID  = "otex__DMG_INFO__GID"
	PropXURN = "otex__DMG_INFO__XURN"
)

// DeriveXURN turns an attached file path into the content hub's XURN and
// guesses the object type from it.
//
// The basename is cut at the first "." and then at the first "-", and "_"
// becomes "*": "2026/10/SEI_66230596-bbcf.jpg" gives "SEI*66230596". Names
// with a "c" at index 2 (SEC_, PRC_) or index 8 (DMGTCHPDCOMP...) are
// compounds; everything else is a picture.
func DeriveXURN(file string) (string, ObjectType) {
	base := path.Base(file)
	if i := strings.IndexByte(base, '.'); i >= 0 {
		base = base[:i]
	}
	if i := strings.IndexByte(base, '-'); i >= 0 {
		base = base[:i]
	}
	xurn := strings.ReplaceAll(base, "_", "*")

	if isC(xurn, 2) || isC(xurn, 8) {
		return xurn, Compound
	}
	return xurn, Picture
}

func isC(s string, i int) bool {
	return i < len(s) && (s[i] == 'c' || s[i] == 'C')
}

// EncodeGID escapes a global ID for the query string. Quotes, double quotes
// and backslashes are backslash-escaped, the result is form-encoded, and
// every encoded backslash is then turned into an encoded quote so a quote in
// the ID ends up doubled.
func EncodeGID(gid string) string {
	var escaped strings.Builder
	for i := 0; i < len(gid); i++ {
		switch c := gid[i]; c {
		case '\'', '"', '\\':
			escaped.WriteByte('\\')
			escaped.WriteByte(c)
		case 0:
			escaped.WriteString(`\0`)
		default:
			escaped.WriteByte(c)
		}
	}
	return strings.ReplaceAll(formEncode(escaped.String()), "%5C", "%27")
}

// formEncode encodes everything except ASCII letters, digits and "-_." as
// %XX, and spaces as "+".
func formEncode(s string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_', c == '.':
			b.WriteByte(c)
		case c == ' ':
			b.WriteByte('+')
		default:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0x0f])
		}
	}
	return b.String()
}

// Lookup is one asset ID query.
type Lookup struct {
	Type     ObjectType
	Property string
	Value    string
}

// ByGID builds the primary lookup: the encoded global ID, with the object
// type taken from the XURN.
func ByGID(gid string, typ ObjectType) Lookup {
	return Lookup{Type: typ, Property: PropGID, Value: EncodeGID(gid)}
}

// ByXURN builds the fallback lookup by XURN.
func ByXURN(xurn string, typ ObjectType) Lookup {
	return Lookup{Type: typ, Property: PropXURN, Value: xurn}
}

// Query returns the path and query string, relative to the repository root.
func (l Lookup) Query() string {
	return "query?q=SELECT%20cmis:objectId%20FROM%20" + string(l.Type) +
		"%20WHERE%20" + l.Property + "=%27" + l.Value + "%27&includeRelationships=source"
}
