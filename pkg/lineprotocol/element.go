package lineprotocol

import "fmt"

// Element is one of the four segments of a line.
type Element uint8

const (
	Measurement Element = iota
	Tags
	Fields
	Timestamp
)

var elementNames = []string{
	Measurement: "measurement",
	Tags:        "tags",
	Fields:      "fields",
	Timestamp:   "timestamp",
}

func (e Element) String() string {
	if int(e) < len(elementNames) {
		return elementNames[e]
	}
	return fmt.Sprintf("element(%d)", uint8(e))
}

// ParseElement maps a group name back to its Element.
func ParseElement(s string) (Element, bool) {
	for i, name := range elementNames {
		if name == s {
			return Element(i), true
		}
	}
	return 0, false
}
