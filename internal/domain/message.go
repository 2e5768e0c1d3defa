package domain

import "time"

// LinkEntity marks a hyperlink span inside message text.
// Offset and Length are byte offsets into InboundMessage.Text.
type LinkEntity struct {
	Offset int
	Length int
	URL    string
}

// InboundMessage is one new or edited post from the source channel.
// An edit arrives as a new value carrying the same ID.
type InboundMessage struct {
	ID        int
	ChatID    int64
	Text      string
	Links     []LinkEntity
	Edited    bool
	Timestamp time.Time
}

// Kind returns "edit" or "new", used as a log and metrics label.
func (m InboundMessage) Kind() string {
	if m.Edited {
		return "edit"
	}
	return "new"
}
