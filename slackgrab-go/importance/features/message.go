package features

import (
	"strconv"
	"strings"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-golib/errors"
)

// Message is the input to feature extraction.
type Message struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	SenderID  string `json:"sender_id"`
	Text      string `json:"text"`
	// Timestamp is when the message was posted. The zero value means unknown,
	// in which case the context's reference time is used.
	Timestamp      time.Time `json:"timestamp"`
	ThreadID       string    `json:"thread_id,omitempty"`
	HasAttachments bool      `json:"has_attachments,omitempty"`
	HasReactions   bool      `json:"has_reactions,omitempty"`
}

// Context carries the historical signals used during extraction. It is
// passed by value and never modified by the extractor.
type Context struct {
	SenderImportance  float64   `json:"sender_importance"`
	ChannelImportance float64   `json:"channel_importance"`
	UrgentKeywords    []string  `json:"urgent_keywords,omitempty"`
	Now               time.Time `json:"now"`
}

// NewContext returns the default context with the given reference time.
func NewContext(now time.Time) Context {
	return Context{
		SenderImportance:  Neutral,
		ChannelImportance: Neutral,
		Now:               now,
	}
}

// ParseSlackTimestamp parses timestamps of the form "1234567890.123456"
// (seconds since the epoch with a microsecond fraction).
func ParseSlackTimestamp(ts string) (time.Time, error) {
	ts = strings.TrimSpace(ts)
	if ts == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	secs, frac := ts, ""
	if i := strings.IndexByte(ts, '.'); i >= 0 {
		secs, frac = ts[:i], ts[i+1:]
	}
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid timestamp %q", ts)
	}
	var nanos int64
	if frac != "" {
		if len(frac) > 9 {
			frac = frac[:9]
		}
		frac += strings.Repeat("0", 9-len(frac))
		nanos, err = strconv.ParseInt(frac, 10, 64)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "invalid timestamp fraction %q", ts)
		}
	}
	return time.Unix(s, nanos), nil
}
