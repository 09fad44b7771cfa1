package session

import (
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/chatlog/internal/chat"
)

// Status is the delivery state of a view entry. Entries move from sending to either
// sent or failed and never leave those states.
type Status string

const (
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

const (
	failedSuffix  = " (failed)"
	warningPrefix = "⚠️"
)

// Entry is one line of the client view.
type Entry struct {
	// ClientID is the local temporary id; zero for entries that came from a read.
	ClientID int64
	// ServerID is the store-assigned id once known.
	ServerID int64
	Text     string
	Author   string
	Time     string
	Status   Status
	Own      bool
}

// Key identifies an entry in the view. It moves from the client id to the server id
// once the server id is known.
func (e Entry) Key() string {
	if e.ServerID != 0 {
		return "s:" + strconv.FormatInt(e.ServerID, 10)
	}
	return "c:" + strconv.FormatInt(e.ClientID, 10)
}

func (e Entry) IsBot() bool {
	return e.Author == chat.BotAuthor
}

// IsWarning reports whether the entry is an operator warning banner.
func (e Entry) IsWarning() bool {
	return strings.HasPrefix(e.Text, warningPrefix)
}

// PingGrade buckets the last measured read round trip.
type PingGrade string

const (
	PingUnknown PingGrade = ""
	PingGood    PingGrade = "good"
	PingFair    PingGrade = "fair"
	PingPoor    PingGrade = "poor"
)

// GradePing classifies a round trip: under 100ms is good, under 500ms is fair.
func GradePing(rtt time.Duration) PingGrade {
	switch {
	case rtt < 100*time.Millisecond:
		return PingGood
	case rtt < 500*time.Millisecond:
		return PingFair
	default:
		return PingPoor
	}
}

// View is an immutable snapshot of the session for rendering.
type View struct {
	Entries   []Entry
	Pinned    *Entry
	Ping      time.Duration
	PingGrade PingGrade
	Writing   bool
}
