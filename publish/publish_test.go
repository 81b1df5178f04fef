package publish

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/powerwatch/config"
	"github.com/use-agent/powerwatch/models"
)

func testSnapshot() *models.Snapshot {
	return &models.Snapshot{
		Timestamp: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
		Solar:     models.Reading{Load: models.Int(2300), Status: models.String("Producing")},
		Grid:      models.Reading{Load: models.Int(-800)},
	}
}

func TestSign(t *testing.T) {
	body := []byte(`{"type":"snapshot.updated"}`)
	sig := Sign("s3cret", body)
	assert.Regexp(t, `^sha256=[0-9a-f]{64}$`, sig)
	assert.Equal(t, sig, Sign("s3cret", body))
	assert.NotEqual(t, sig, Sign("other", body))
}

func TestWebhook_DeliversSignedEvent(t *testing.T) {
	var (
		gotBody []byte
		gotSig  string
		gotType string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get(SignatureHeader)
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "s3cret")
	require.NoError(t, w.Publish(context.Background(), testSnapshot()))

	assert.Equal(t, "application/json", gotType)
	assert.Equal(t, Sign("s3cret", gotBody), gotSig)

	var ev struct {
		Type      string `json:"type"`
		Timestamp int64  `json:"timestamp"`
		Data      struct {
			Solar struct {
				Load   *int    `json:"load"`
				Status *string `json:"status"`
			} `json:"solar"`
			Car struct {
				Load *int `json:"load"`
			} `json:"car"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(gotBody, &ev))
	assert.Equal(t, EventSnapshot, ev.Type)
	assert.Equal(t, testSnapshot().Timestamp.UnixMilli(), ev.Timestamp)
	require.NotNil(t, ev.Data.Solar.Load)
	assert.Equal(t, 2300, *ev.Data.Solar.Load)
	assert.Nil(t, ev.Data.Car.Load, "absent readings stay null")
}

func TestWebhook_NoSecretNoSignature(t *testing.T) {
	var sig atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sig.Store(r.Header.Get(SignatureHeader))
	}))
	defer srv.Close()

	require.NoError(t, NewWebhook(srv.URL, "").Publish(context.Background(), testSnapshot()))
	assert.Equal(t, "", sig.Load())
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "", WithRetry(3, time.Millisecond))
	require.NoError(t, w.Publish(context.Background(), testSnapshot()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhook_GivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "", WithRetry(2, time.Millisecond))
	err := w.Publish(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(2), calls.Load())
}

func TestWebhook_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, "", WithRetry(3, time.Millisecond))
	err := w.Publish(context.Background(), testSnapshot())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestWebhook_NilSnapshot(t *testing.T) {
	w := NewWebhook("http://127.0.0.1:1", "")
	assert.Error(t, w.Publish(context.Background(), nil))
}

type fakeConn struct {
	msgs []*nats.Msg
	err  error
}

func (f *fakeConn) PublishMsg(m *nats.Msg) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, m)
	return nil
}

func TestNATS_Publish(t *testing.T) {
	conn := &fakeConn{}
	n := NewNATS(conn, "powerwatch.snapshot")
	assert.Equal(t, "nats:powerwatch.snapshot", n.Name())

	require.NoError(t, n.Publish(context.Background(), testSnapshot()))
	require.Len(t, conn.msgs, 1)

	msg := conn.msgs[0]
	assert.Equal(t, "powerwatch.snapshot", msg.Subject)
	assert.Equal(t, EventSnapshot, msg.Header.Get("Powerwatch-Event"))

	var ev Event
	require.NoError(t, json.Unmarshal(msg.Data, &ev))
	assert.Equal(t, EventSnapshot, ev.Type)
	require.NotNil(t, ev.Data)
	assert.Equal(t, -800, *ev.Data.Grid.Load)
}

func TestNATS_PublishError(t *testing.T) {
	n := NewNATS(&fakeConn{err: nats.ErrConnectionClosed}, "s")
	err := n.Publish(context.Background(), testSnapshot())
	assert.True(t, errors.Is(err, nats.ErrConnectionClosed))
	n.Close()
}

func TestHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	c := (*headerCarrier)(msg)
	assert.Equal(t, "", c.Get("traceparent"))
	assert.Nil(t, c.Keys())

	c.Set("traceparent", "00-abc-def-01")
	assert.Equal(t, "00-abc-def-01", c.Get("traceparent"))
	assert.Len(t, c.Keys(), 1)
}

func TestFromConfig(t *testing.T) {
	pubs, closeAll, err := FromConfig(config.PublishConfig{})
	require.NoError(t, err)
	assert.Empty(t, pubs)
	closeAll()

	pubs, closeAll, err = FromConfig(config.PublishConfig{WebhookURL: "https://hooks.test/x", WebhookSecret: "k"})
	require.NoError(t, err)
	require.Len(t, pubs, 1)
	assert.Equal(t, "webhook", pubs[0].Name())
	closeAll()
}
