package chp

import (
	"encoding/xml"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// queryFeed is the part of a CMIS query answer that carries object IDs:
// entry/object/properties/propertyId/value beneath the document root.
type queryFeed struct {
	Entries []struct {
		Object struct {
			Properties struct {
				IDs []struct {
					Values []string `xml:"http://docs.oasis-open.org/ns/cmis/core/200908/ value"`
				} `xml:"http://docs.oasis-open.org/ns/cmis/core/200908/ propertyId"`
			} `xml:"http://docs.oasis-open.org/ns/cmis/core/200908/ properties"`
		} `xml:"http://docs.oasis-open.org/ns/cmis/restatom/200908/ object"`
	} `xml:"http://www.w3.org/2005/Atom entry"`
}

// parseAssetID returns the first ID value in document order. Malformed XML
// and answers without a non-empty value report false.
func parseAssetID(r io.Reader) (string, bool) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel

	var feed queryFeed
	if err := dec.Decode(&feed); err != nil {
		return "", false
	}
	for _, e := range feed.Entries {
		for _, p := range e.Object.Properties.IDs {
			for _, v := range p.Values {
				if v = strings.TrimSpace(v); v != "" {
					return v, true
				}
				return "", false
			}
		}
	}
	return "", false
}
