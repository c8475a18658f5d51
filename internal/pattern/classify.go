// Package pattern groups crawled URLs by structural shape and caps how many
// samples of each shape are fetched.
package pattern

import "regexp"

// SegmentType names the kind of dynamic value found in a path segment.
type SegmentType string

// Segment types, in classification priority order. TypeString is the
// supertype produced when two different types meet at one position; it is
// never returned by Classify. TypeNone marks a literal position.
const (
	TypeNone   SegmentType = ""
	TypeUUID   SegmentType = "uuid"
	TypeInt    SegmentType = "int"
	TypeDate   SegmentType = "date"
	TypeHash   SegmentType = "hash"
	TypeSlug   SegmentType = "slug"
	TypeString SegmentType = "string"
)

var (
	uuidRe = regexp.MustCompile(`(?i)^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
	intRe  = regexp.MustCompile(`^[0-9]+$`)
	dateRe = regexp.MustCompile(`^[0-9]{4}-[0-9]{2}-[0-9]{2}$`)
	hashRe = regexp.MustCompile(`(?i)^(?:[0-9a-f]{32}|[0-9a-f]{40}|[0-9a-f]{64})$`)
	slugRe = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)+$`)
)

var classifiers = []struct {
	kind SegmentType
	re   *regexp.Regexp
}{
	{TypeUUID, uuidRe},
	{TypeInt, intRe},
	{TypeDate, dateRe},
	{TypeHash, hashRe},
	{TypeSlug, slugRe},
}

// Classify reports the dynamic type of a single path segment. The first
// matching rule wins, so an all-digit segment is always TypeInt even when it
// also looks like a hash. Literal segments (including the empty segment)
// return false.
func Classify(segment string) (SegmentType, bool) {
	if segment == "" {
		return TypeNone, false
	}
	for _, c := range classifiers {
		if c.re.MatchString(segment) {
			return c.kind, true
		}
	}
	return TypeNone, false
}

// Promote merges the type stored for a position with a newly observed one.
// Equal types are kept, TypeNone yields to the other side, and any other
// disagreement collapses to TypeString, which absorbs everything after.
func Promote(current, incoming SegmentType) SegmentType {
	switch {
	case current == incoming:
		return current
	case current == TypeNone:
		return incoming
	case incoming == TypeNone:
		return current
	default:
		return TypeString
	}
}
