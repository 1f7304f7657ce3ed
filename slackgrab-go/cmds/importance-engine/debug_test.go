package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/slackgrab/slackgrab/slackgrab-go/importance"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/features"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/resources"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/training"
	"github.com/slackgrab/slackgrab/slackgrab-go/importance/trainstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) *importance.Engine {
	store, err := trainstore.Open(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := importance.DefaultConfig()
	cfg.ModelDir = t.TempDir()
	e, err := importance.New(cfg, importance.Options{
		Source:   store,
		Recorder: store,
		Sampler: resources.SamplerFunc(func() (resources.Usage, error) {
			return resources.Usage{CPU: 0.01, MemoryMB: 100}, nil
		}),
	})
	require.NoError(t, err)
	e.Start()
	t.Cleanup(func() { e.Stop() })
	return e
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestDebugEndpoints(t *testing.T) {
	e := newTestEngine(t)
	h := newDebugHandler(e, zap.NewNop())

	rec := do(t, h, "POST", "/debug/score", `{"message": {"id": "m1", "sender_id": "U1", "text": "URGENT: prod is down, need help asap"}}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var score struct {
		Level         string     `json:"level"`
		Value         float64    `json:"value"`
		Probabilities [3]float64 `json:"probabilities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &score))
	assert.Contains(t, []string{"HIGH", "MEDIUM", "LOW"}, score.Level)
	assert.InDelta(t, 1, score.Probabilities[0]+score.Probabilities[1]+score.Probabilities[2], 1e-9)

	rec = do(t, h, "POST", "/debug/feedback", `{"message_id": "m1", "feedback": "too low"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, h, "POST", "/debug/feedback", `{"message_id": "m1", "interacted": true, "dwell_ms": 12000}`)
	assert.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = do(t, h, "POST", "/debug/feedback", `{"message_id": "nope", "feedback": "GOOD"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, "POST", "/debug/feedback", `{"message_id": "m1", "feedback": "SIDEWAYS"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/debug/feedback", `{"message_id": "m1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, "POST", "/debug/batch", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var res struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "FAILED", res.Status)
	assert.Equal(t, training.MsgNotEnoughExamples, res.Message)

	require.Eventually(t, func() bool { return e.Stats().Training.Online.Trained == 2 }, 5*time.Second, 10*time.Millisecond)

	rec = do(t, h, "GET", "/debug/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stats importance.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.EqualValues(t, 1, stats.Today.Scored)
	assert.EqualValues(t, 1, stats.Today.Feedback)
	assert.EqualValues(t, 1, stats.Today.Interactions)
	assert.True(t, stats.Ready)

	rec = do(t, h, "GET", "/debug/score", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type constScorer float64

func (c constScorer) Score(msg features.Message, sc features.Context) importance.Score {
	s := importance.DefaultScore()
	s.Value = float64(c)
	return s
}

func TestScoreLines(t *testing.T) {
	in := strings.NewReader(`{"id": "a", "text": "hello"}

{"id": "b", "text": "world?"}
`)
	var out bytes.Buffer
	n, err := scoreLines(constScorer(0.25), in, &out)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)
	var first scoredLine
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "a", first.ID)
	assert.Equal(t, 0.25, first.Score.Value)

	_, err = scoreLines(constScorer(0), strings.NewReader("{not json}\n"), &out)
	assert.Error(t, err)
}
