// Package message holds the parts of a stored message and classifies them for
// display.
//
// The parts of a message form a tree. Parts are kept in a flat list (an arena),
// each part having a nested-set position: a pre-order Left counter assigned
// when entering a part and a Right counter assigned when leaving it. A part
// contains another part if its range encloses the range of the other.
package message

// Part is a MIME part of a stored message.
type Part struct {
	ID        int64
	MessageID int64

	// Header values, as stored. ContentType holds the media type and its
	// parameters, e.g. `text/plain; charset="iso-8859-1"`.
	ContentType        string
	ContentDisposition string

	// Nested-set position, Left < Right. Ranges of two parts either nest or are
	// disjoint.
	Left  int
	Right int

	// ID of the part this part is a child of, 0 for the root part.
	ParentID int64

	// Body is the payload with any content-transfer-encoding removed, in the
	// charset of the part.
	Body []byte `json:"-" yaml:"-"`
}

// Contains returns whether o is a descendant of p.
func (p Part) Contains(o Part) bool {
	return p.Left < o.Left && o.Right < p.Right
}

// SiblingOf returns whether p and o are children of the same parent, e.g. the
// alternatives of a multipart/alternative.
func (p Part) SiblingOf(o Part) bool {
	return p.ParentID == o.ParentID
}
