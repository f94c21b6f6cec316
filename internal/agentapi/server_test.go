package agentapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Multicast-Agent/internal/agent"
	"Multicast-Agent/internal/core/network"
	"Multicast-Agent/internal/core/topic"
)

type fixture struct {
	mux   *http.ServeMux
	agent *agent.Agent
	peer  *agent.Agent
	inbox *Inbox
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g, err := network.ParseGroup("/ip4/224.0.0.3/udp/8888")
	require.NoError(t, err)
	n := network.NewMemoryNetwork()
	reg := prometheus.NewRegistry()

	inbox := NewInbox(16, nil)
	a, err := agent.New(n.Endpoint(), agent.Options{Name: "api", Group: g, Handler: inbox, Registerer: reg})
	require.NoError(t, err)
	peer, err := agent.New(n.Endpoint(), agent.Options{Name: "peer", Group: g, Handler: NewInbox(1, nil)})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(context.Background()) }()
	for a.State() != agent.StateRunning {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	t.Cleanup(func() {
		require.NoError(t, a.Stop())
		require.NoError(t, <-errCh)
		require.NoError(t, peer.Stop())
	})

	mux := http.NewServeMux()
	NewServer(a, inbox, reg).Register(mux)
	return &fixture{mux: mux, agent: a, peer: peer, inbox: inbox}
}

func (f *fixture) post(path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) get(path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestAgentAPIFlow(t *testing.T) {
	f := newFixture(t)

	rec := f.post("/api/agent/register", `{"topic":"room/temp"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var reg struct {
		Topic string `json:"topic"`
		ID    string `json:"id"`
	}
	decode(t, rec, &reg)
	assert.Equal(t, topic.Hash("room/temp").Hex(), reg.ID)

	rec = f.get("/api/agent/topics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"room/temp"`)

	require.NoError(t, f.peer.Send(context.Background(), "room/temp", []byte("21.5")))

	var msgs struct {
		Messages []Entry `json:"messages"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		decode(t, f.get("/api/agent/messages"), &msgs)
		if len(msgs.Messages) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "room/temp", msgs.Messages[0].Topic)
	assert.True(t, msgs.Messages[0].Known)
	assert.Equal(t, "21.5", msgs.Messages[0].Data)
	assert.Equal(t, 4, msgs.Messages[0].Length)

	rec = f.post("/api/agent/unregister", `{"topic":"room/temp"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.agent.Topics())

	rec = f.get("/api/agent/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Name  string      `json:"name"`
		Group string      `json:"group"`
		State string      `json:"state"`
		Stats agent.Stats `json:"stats"`
	}
	decode(t, rec, &status)
	assert.Equal(t, "api", status.Name)
	assert.Equal(t, "/ip4/224.0.0.3/udp/8888", status.Group)
	assert.Equal(t, "running", status.State)
	assert.Equal(t, uint64(1), status.Stats.Delivered)
}

func TestAgentAPISend(t *testing.T) {
	f := newFixture(t)
	f.agent.Register("loop/back")

	rec := f.post("/api/agent/send", `{"topic":"loop/back","data_base64":"AAEC"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(1), f.agent.Stats().Sent)

	var msgs struct {
		Messages []Entry `json:"messages"`
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(msgs.Messages) == 0 {
		time.Sleep(10 * time.Millisecond)
		decode(t, f.get("/api/agent/messages?limit=1"), &msgs)
	}
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, "AAEC", msgs.Messages[0].DataBase64)
}

func TestAgentAPIValidation(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.post("/api/agent/register", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/agent/register", `not json`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.get("/api/agent/register").Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/agent/send", `{"data":"x"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/agent/send", `{"topic":"t","data_base64":"***"}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.post("/api/agent/send", `{"topic":"t","data":"a","data_base64":"YQ=="}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.get("/api/agent/messages?limit=-1").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.post("/api/agent/status", `{}`).Code)
}

func TestAgentAPISendAfterStop(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.agent.Stop())

	rec := f.post("/api/agent/send", `{"topic":"t","data":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAgentAPIMetrics(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.post("/api/agent/send", `{"topic":"t","data":"x"}`).Code)

	rec := f.get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `mcast_agent_sent_total{agent="api"} 1`), body)
}

func TestInboxRing(t *testing.T) {
	in := NewInbox(3, nil)
	for i := 0; i < 5; i++ {
		in.HandleMessage(agent.Message{Topic: "t", Known: true, Payload: []byte{byte('a' + i)}})
	}
	got := in.Recent(0)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].Data)
	assert.Equal(t, "e", got[2].Data)
	assert.Equal(t, uint64(5), got[2].Seq)

	got = in.Recent(2)
	require.Len(t, got, 2)
	assert.Equal(t, "d", got[0].Data)
}

func TestInboxBinaryPayload(t *testing.T) {
	in := NewInbox(1, nil)
	in.HandleMessage(agent.Message{ID: topic.Hash("bin"), Payload: []byte{0xff, 0xfe}})
	e := in.Recent(0)[0]
	assert.False(t, e.Known)
	assert.Empty(t, e.Data)
	assert.Equal(t, "//4=", e.DataBase64)
	assert.Equal(t, topic.Hash("bin").Hex(), e.ID)
}

func TestInboxForwardsAndStreams(t *testing.T) {
	var forwarded []agent.Message
	in := NewInbox(4, agent.HandlerFunc(func(m agent.Message) { forwarded = append(forwarded, m) }))
	ch, cancel := in.Subscribe()

	in.HandleMessage(agent.Message{Topic: "t", Known: true, Payload: []byte("x")})
	require.Len(t, forwarded, 1)
	select {
	case e := <-ch:
		assert.Equal(t, "x", e.Data)
	case <-time.After(time.Second):
		t.Fatal("no streamed entry")
	}

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}
