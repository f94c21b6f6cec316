// Package agentapi exposes a running agent over HTTP.
package agentapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	logging "github.com/ipfs/go-log/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Multicast-Agent/internal/agent"
	"Multicast-Agent/internal/core/network"
	"Multicast-Agent/internal/core/topic"
)

var log = logging.Logger("mcast-api")

// Agent is the part of *agent.Agent the API drives.
type Agent interface {
	Name() string
	Group() network.Group
	State() agent.State
	Stats() agent.Stats
	Topics() []string
	Register(name string) topic.ID
	Unregister(name string)
	Send(ctx context.Context, topicName string, data []byte) error
}

type Server struct {
	agent    Agent
	inbox    *Inbox
	gatherer prometheus.Gatherer
}

// NewServer wires the API to a. inbox and gatherer may be nil, which
// disables the message and metrics routes.
func NewServer(a Agent, inbox *Inbox, gatherer prometheus.Gatherer) *Server {
	return &Server{agent: a, inbox: inbox, gatherer: gatherer}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/agent/status", s.handleStatus)
	mux.HandleFunc("/api/agent/topics", s.handleTopics)
	mux.HandleFunc("/api/agent/register", s.handleRegister)
	mux.HandleFunc("/api/agent/unregister", s.handleUnregister)
	mux.HandleFunc("/api/agent/send", s.handleSend)
	mux.HandleFunc("/api/agent/messages", s.handleMessages)
	mux.HandleFunc("/api/agent/stream", s.handleStream)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

type topicRequest struct {
	Topic string `json:"topic"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"name":   s.agent.Name(),
		"group":  s.agent.Group().String(),
		"state":  s.agent.State().String(),
		"topics": s.agent.Topics(),
		"stats":  s.agent.Stats(),
	})
}

func (s *Server) handleTopics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	names := s.agent.Topics()
	out := make([]map[string]string, 0, len(names))
	for _, name := range names {
		out = append(out, map[string]string{"topic": name, "id": topic.Hash(name).Hex()})
	}
	writeJSON(w, http.StatusOK, map[string]any{"topics": out})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTopicRequest(w, r)
	if !ok {
		return
	}
	id := s.agent.Register(req.Topic)
	writeJSON(w, http.StatusOK, map[string]any{"topic": req.Topic, "id": id.Hex()})
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeTopicRequest(w, r)
	if !ok {
		return
	}
	s.agent.Unregister(req.Topic)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		Topic      string `json:"topic"`
		Data       string `json:"data"`
		DataBase64 string `json:"data_base64"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic required")
		return
	}
	payload := []byte(req.Data)
	if req.DataBase64 != "" {
		if req.Data != "" {
			writeError(w, http.StatusBadRequest, "data and data_base64 are exclusive")
			return
		}
		b, err := base64.StdEncoding.DecodeString(req.DataBase64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid data_base64")
			return
		}
		payload = b
	}
	if err := s.agent.Send(r.Context(), req.Topic, payload); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, agent.ErrStopped) {
			status = http.StatusServiceUnavailable
		}
		log.Warnf("send via api failed: %v", err)
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"id":     topic.Hash(req.Topic).Hex(),
		"length": len(payload),
	})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if s.inbox == nil {
		writeError(w, http.StatusServiceUnavailable, "inbox unavailable")
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": s.inbox.Recent(limit)})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.inbox == nil {
		writeError(w, http.StatusServiceUnavailable, "inbox unavailable")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	ch, cancel := s.inbox.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			b, _ := json.Marshal(e)
			if _, err := w.Write([]byte("event: message\ndata: " + string(b) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func decodeTopicRequest(w http.ResponseWriter, r *http.Request) (topicRequest, bool) {
	var req topicRequest
	if r.Method == http.MethodOptions {
		writeNoContent(w)
		return req, false
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return req, false
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return req, false
	}
	if req.Topic == "" {
		writeError(w, http.StatusBadRequest, "topic required")
		return req, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeNoContent(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	w.WriteHeader(http.StatusNoContent)
}
