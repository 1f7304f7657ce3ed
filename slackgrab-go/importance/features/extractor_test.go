package features

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Wednesday 2026-03-18 10:30 UTC
var refTime = time.Date(2026, 3, 18, 10, 30, 0, 0, time.UTC)

func newTestExtractor() *Extractor {
	opts := DefaultOptions()
	opts.Location = time.UTC
	return NewExtractor(opts, nil)
}

func testMessage(text string) Message {
	return Message{
		ID:        "M1",
		ChannelID: "C024BE91L",
		SenderID:  "U012AB3CD",
		Text:      text,
		Timestamp: refTime.Add(-time.Hour),
	}
}

func assertInRange(t *testing.T, v Vector) {
	require.Equal(t, Dimension, v.Len())
	require.Len(t, v.Values(), Dimension)
	for i, x := range v.Values() {
		assert.True(t, x >= 0 && x <= 1, "%s = %v out of range", names[i], x)
	}
}

func TestExtract_UrgentMessage(t *testing.T) {
	e := newTestExtractor()
	v := e.Extract(testMessage("URGENT: server down, please respond ASAP!!"), NewContext(refTime))
	assertInRange(t, v)

	assert.Equal(t, 1.0, v.Value("urgent_keyword_match"))
	assert.InDelta(t, 0.4, v.Value("exclamation_count"), 1e-9)
	// 10 of 33 letters are upper case
	assert.InDelta(t, 10.0/33.0, v.Value("uppercase_ratio"), 1e-9)
	assert.Equal(t, 0.0, v.Value("has_question"))
	assert.InDelta(t, 6.0/500.0, v.Value("word_count"), 1e-9)
	assert.InDelta(t, 42.0/4000.0, v.Value("text_length"), 1e-9)
	assert.InDelta(t, (42.0/6.0)/20.0, v.Value("avg_word_length"), 1e-9)
}

func TestExtract_EmptyTextIsZero(t *testing.T) {
	e := newTestExtractor()
	v := e.Extract(testMessage(""), NewContext(refTime))
	assertInRange(t, v)
	for i := textOffset; i < senderOffset; i++ {
		assert.Equal(t, 0.0, v.At(i), names[i])
	}
}

func TestExtract_TextDetectors(t *testing.T) {
	e := newTestExtractor()
	ctx := NewContext(refTime)

	v := e.Extract(testMessage("see https://example.com/a?b=c"), ctx)
	assert.Equal(t, 1.0, v.Value("has_url"))
	assert.Equal(t, 1.0, v.Value("has_question"))

	v = e.Extract(testMessage("ping <@U012AB3CD> about it"), ctx)
	assert.Equal(t, 1.0, v.Value("has_mention"))
	assert.Equal(t, 0.0, v.Value("has_url"))

	v = e.Extract(testMessage("Great work :thumbsup:"), ctx)
	assert.Equal(t, 1.0, v.Value("has_emoji"))
	assert.Equal(t, 0.0, v.Value("urgent_keyword_match"))

	v = e.Extract(testMessage("URGENT MESSAGE"), ctx)
	assert.True(t, v.Value("uppercase_ratio") > 0.8)

	v = e.Extract(testMessage("Important! Please respond!!!!!!"), ctx)
	assert.Equal(t, 1.0, v.Value("exclamation_count"))
}

func TestExtract_ContextKeywords(t *testing.T) {
	e := newTestExtractor()
	ctx := NewContext(refTime)
	msg := testMessage("the Release train leaves at noon")

	v := e.Extract(msg, ctx)
	assert.Equal(t, 0.0, v.Value("urgent_keyword_match"))

	ctx.UrgentKeywords = []string{"", "  ", "release"}
	v = e.Extract(msg, ctx)
	assert.Equal(t, 1.0, v.Value("urgent_keyword_match"))

	withExtra := NewExtractor(Options{ExtraKeywords: []string{"TRAIN"}, Location: time.UTC}, nil)
	v = withExtra.Extract(msg, NewContext(refTime))
	assert.Equal(t, 1.0, v.Value("urgent_keyword_match"))
}

func TestExtract_Sender(t *testing.T) {
	e := newTestExtractor()
	ctx := NewContext(refTime)
	ctx.SenderImportance = 0.9

	v := e.Extract(testMessage("hi"), ctx)
	assert.Equal(t, 0.9, v.Value("sender_importance"))
	assert.Equal(t, 0.9, v.Value("sender_avg_importance"))
	assert.Equal(t, 0.5, v.Value("user_interaction_rate"))
	assert.Equal(t, 0.0, v.Value("is_bot"))

	freq := v.Value("sender_frequency")
	assert.True(t, freq >= 0 && freq < 1)
	again := e.Extract(testMessage("something else"), ctx)
	assert.Equal(t, freq, again.Value("sender_frequency"), "frequency must be stable per sender")

	bot := testMessage("deploy finished")
	bot.SenderID = "B01DEPLOY"
	v = e.Extract(bot, ctx)
	assert.Equal(t, 1.0, v.Value("is_bot"))

	anon := testMessage("hi")
	anon.SenderID = ""
	v = e.Extract(anon, ctx)
	assert.Equal(t, Neutral, v.Value("sender_frequency"))

	ctx.SenderImportance = 3
	v = e.Extract(testMessage("hi"), ctx)
	assert.Equal(t, 1.0, v.Value("sender_importance"))
}

func TestExtract_MediaAndChannel(t *testing.T) {
	e := newTestExtractor()
	ctx := NewContext(refTime)
	ctx.ChannelImportance = 0.7

	msg := testMessage("file attached")
	msg.HasAttachments = true
	msg.ThreadID = "1234567890.123456"
	msg.ChannelID = "D024BE91L"

	v := e.Extract(msg, ctx)
	assert.Equal(t, 1.0, v.Value("has_attachments"))
	assert.Equal(t, 0.5, v.Value("attachment_count"))
	assert.Equal(t, 1.0, v.Value("in_thread"))
	assert.Equal(t, 0.7, v.Value("channel_importance"))
	assert.Equal(t, 1.0, v.Value("is_private_channel"))

	v = e.Extract(testMessage("plain"), ctx)
	assert.Equal(t, 0.0, v.Value("has_attachments"))
	assert.Equal(t, 0.0, v.Value("attachment_count"))
	assert.Equal(t, 0.0, v.Value("in_thread"))
	assert.Equal(t, 0.0, v.Value("is_private_channel"))
}

func TestExtract_ConfigurablePredicates(t *testing.T) {
	e := NewExtractor(Options{
		IsBot:    func(id string) bool { return id == "app-123" },
		IsDirect: PrefixPredicate("dm-", "mpdm-"),
		Location: time.UTC,
	}, nil)

	msg := testMessage("hello")
	msg.SenderID = "app-123"
	msg.ChannelID = "mpdm-team"
	v := e.Extract(msg, NewContext(refTime))
	assert.Equal(t, 1.0, v.Value("is_bot"))
	assert.Equal(t, 1.0, v.Value("is_private_channel"))

	msg.SenderID = "B0123"
	msg.ChannelID = "D0123"
	v = e.Extract(msg, NewContext(refTime))
	assert.Equal(t, 0.0, v.Value("is_bot"))
	assert.Equal(t, 0.0, v.Value("is_private_channel"))
}

func TestExtract_Temporal(t *testing.T) {
	e := newTestExtractor()

	v := e.Extract(testMessage("standup notes"), NewContext(refTime))
	assert.InDelta(t, 9.0/24.0, v.Value("hour_of_day"), 1e-9)
	assert.InDelta(t, 2.0/6.0, v.Value("day_of_week"), 1e-9)
	assert.Equal(t, 1.0, v.Value("is_business_hours"))
	assert.Equal(t, 0.0, v.Value("is_weekend"))
	assert.InDelta(t, 1-1.0/(7*24), v.Value("recency"), 1e-9)

	// Sunday evening, ten days old
	sunday := testMessage("weekend deploy")
	sunday.Timestamp = time.Date(2026, 3, 8, 19, 0, 0, 0, time.UTC)
	v = e.Extract(sunday, NewContext(refTime))
	assert.Equal(t, 1.0, v.Value("day_of_week"))
	assert.Equal(t, 1.0, v.Value("is_weekend"))
	assert.Equal(t, 0.0, v.Value("is_business_hours"))
	assert.Equal(t, 0.0, v.Value("recency"))

	// posted after the reference time
	future := testMessage("clock skew")
	future.Timestamp = refTime.Add(time.Hour)
	v = e.Extract(future, NewContext(refTime))
	assert.Equal(t, 1.0, v.Value("recency"))

	// unknown timestamp uses the reference time
	unknown := testMessage("no timestamp")
	unknown.Timestamp = time.Time{}
	v = e.Extract(unknown, NewContext(refTime))
	assert.Equal(t, 1.0, v.Value("recency"))
	assert.InDelta(t, 10.0/24.0, v.Value("hour_of_day"), 1e-9)
}

func TestExtract_PanicYieldsNeutralVector(t *testing.T) {
	e := NewExtractor(Options{
		IsBot:    func(string) bool { panic("bad predicate") },
		Location: time.UTC,
	}, nil)
	v := e.Extract(testMessage("hello"), NewContext(refTime))
	assert.Equal(t, DefaultVector(), v)
}

func TestExtract_NonFiniteContext(t *testing.T) {
	e := newTestExtractor()
	ctx := NewContext(refTime)
	ctx.SenderImportance = math.NaN()
	ctx.ChannelImportance = math.Inf(1)

	v := e.Extract(testMessage("hello"), ctx)
	assertInRange(t, v)
	assert.Equal(t, Neutral, v.Value("sender_importance"))
	assert.Equal(t, Neutral, v.Value("channel_importance"))
}

func TestExtract_Deterministic(t *testing.T) {
	e := newTestExtractor()
	msg := testMessage("Can you review <@U999> https://x.io :eyes: ?")
	ctx := NewContext(refTime)
	assert.Equal(t, e.Extract(msg, ctx), e.Extract(msg, ctx))

	vs := e.ExtractAll([]Message{msg, testMessage("")}, ctx)
	require.Len(t, vs, 2)
	assert.Equal(t, e.Extract(msg, ctx), vs[0])
}
