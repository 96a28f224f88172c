package protocol

// ConversationID identifies a two-party conversation by the unordered pair
// of its participants. The zero value identifies no conversation.
type ConversationID struct {
	low  string
	high string
}

// NewConversationID returns the identifier for the pair (a, b). The order of
// the arguments does not matter.
func NewConversationID(a, b string) ConversationID {
	if b < a {
		a, b = b, a
	}
	return ConversationID{low: a, high: b}
}

// IsZero reports whether the identifier names no conversation.
func (c ConversationID) IsZero() bool {
	return c.low == "" && c.high == ""
}

// Involves reports whether username is one of the two participants.
func (c ConversationID) Involves(username string) bool {
	return !c.IsZero() && (c.low == username || c.high == username)
}

// Counterpart returns the participant that is not self.
func (c ConversationID) Counterpart(self string) (string, bool) {
	switch self {
	case c.low:
		return c.high, true
	case c.high:
		return c.low, true
	default:
		return "", false
	}
}

// String returns a stable textual form suitable for logging and map keys.
func (c ConversationID) String() string {
	if c.IsZero() {
		return ""
	}
	return c.low + "|" + c.high
}
