// Package features turns messages into the fixed-length vectors consumed by
// the importance predictor.
package features

import (
	"strings"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-golib/applog"
	"github.com/slackgrab/slackgrab/slackgrab-golib/rollbar"
	"go.uber.org/zap"
)

// IDPredicate classifies an identifier issued by the message source.
type IDPredicate func(id string) bool

// PrefixPredicate matches identifiers starting with any of the prefixes.
func PrefixPredicate(prefixes ...string) IDPredicate {
	prefixes = append([]string(nil), prefixes...)
	return func(id string) bool {
		for _, p := range prefixes {
			if p != "" && strings.HasPrefix(id, p) {
				return true
			}
		}
		return false
	}
}

// Options configures an Extractor.
type Options struct {
	// ExtraKeywords are matched in addition to DefaultUrgentKeywords.
	ExtraKeywords []string
	// IsBot reports whether a sender ID belongs to a bot.
	IsBot IDPredicate
	// IsDirect reports whether a channel ID is a direct-message conversation.
	IsDirect IDPredicate
	// Location is used for hour, weekday and business-hours features.
	Location *time.Location
}

// DefaultOptions returns the options for Slack-style identifiers, where bot
// IDs start with "B" and direct-message channel IDs start with "D".
func DefaultOptions() Options {
	return Options{
		IsBot:    PrefixPredicate("B"),
		IsDirect: PrefixPredicate("D"),
		Location: time.Local,
	}
}

// Extractor computes feature vectors. It is safe for concurrent use.
type Extractor struct {
	text     textFeatures
	sender   senderFeatures
	media    mediaFeatures
	temporal temporalFeatures
	channel  channelFeatures
	logger   *zap.Logger
}

// NewExtractor returns an Extractor; nil fields in opts take their defaults.
func NewExtractor(opts Options, logger *zap.Logger) *Extractor {
	defaults := DefaultOptions()
	if opts.IsBot == nil {
		opts.IsBot = defaults.IsBot
	}
	if opts.IsDirect == nil {
		opts.IsDirect = defaults.IsDirect
	}
	if opts.Location == nil {
		opts.Location = defaults.Location
	}
	logger = applog.OrNop(logger)
	return &Extractor{
		text:     newTextFeatures(opts.ExtraKeywords),
		sender:   senderFeatures{isBot: opts.IsBot},
		temporal: temporalFeatures{loc: opts.Location},
		channel:  channelFeatures{isDirect: opts.IsDirect},
		logger:   logger.Named("features"),
	}
}

// Extract computes the feature vector for msg. It never fails: if any part of
// extraction panics the all-neutral vector is returned, and individual
// non-finite features are replaced by Neutral.
func (e *Extractor) Extract(msg Message, ctx Context) (v Vector) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Warn("feature extraction failed, using neutral vector",
				zap.String("message", msg.ID), zap.Any("panic", r))
			rollbar.PanicRecovery(r, msg.ID)
			v = DefaultVector()
		}
	}()

	now := ctx.Now
	if now.IsZero() {
		now = time.Now()
	}
	posted := msg.Timestamp
	if posted.IsZero() {
		posted = now
	}

	e.text.extract(msg.Text, ctx.UrgentKeywords, v.values[textOffset:senderOffset])
	e.sender.extract(msg.SenderID, ctx.SenderImportance, v.values[senderOffset:mediaOffset])
	e.media.extract(msg, v.values[mediaOffset:temporalOffset])
	e.temporal.extract(posted, now, v.values[temporalOffset:channelOffset])
	e.channel.extract(msg.ChannelID, ctx.ChannelImportance, v.values[channelOffset:])

	return v.sanitized()
}

// ExtractAll extracts a vector per message with a shared context.
func (e *Extractor) ExtractAll(msgs []Message, ctx Context) []Vector {
	vs := make([]Vector, len(msgs))
	for i, msg := range msgs {
		vs[i] = e.Extract(msg, ctx)
	}
	return vs
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func capped(x, limit float64) float64 {
	if x >= limit {
		return 1
	}
	return x / limit
}
