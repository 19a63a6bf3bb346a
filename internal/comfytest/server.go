// Package comfytest provides an in-process fake of the generation backend
// for tests: the submission and upload endpoints, the artifact output root,
// template documents, and the websocket event channel.
package comfytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

// SubmittedNode mirrors one template node as received on the wire.
type SubmittedNode struct {
	ClassType string         `json:"class_type"`
	Inputs    map[string]any `json:"inputs"`
}

// Submission is one recorded POST /prompt payload.
type Submission struct {
	Prompt   map[string]SubmittedNode `json:"prompt"`
	ClientID string                   `json:"client_id"`
}

// Server is the fake backend. Zero value is not usable; construct with New.
type Server struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu          sync.Mutex
	templates   map[string][]byte
	artifacts   map[string][]byte
	failCounts  map[string]int
	submissions []Submission
	conns       map[string]*websocket.Conn
	promptSeq   int
	rejectNext  bool
}

// New starts the fake backend.
func New() *Server {
	s := &Server{
		templates:  make(map[string][]byte),
		artifacts:  make(map[string][]byte),
		failCounts: make(map[string]int),
		conns:      make(map[string]*websocket.Conn),
	}

	r := chi.NewRouter()
	r.Get("/js/{name}", s.handleTemplate)
	r.Post("/prompt", s.handlePrompt)
	r.Post("/upload/image", s.handleUpload)
	r.Get("/output/{subfolder}/{filename}", s.handleOutput)
	r.Get("/ws", s.handleWS)

	s.httpServer = httptest.NewServer(r)
	return s
}

// Close shuts the server down.
func (s *Server) Close() {
	s.mu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = make(map[string]*websocket.Conn)
	s.mu.Unlock()
	s.httpServer.Close()
}

// URL is the HTTP base URL.
func (s *Server) URL() string { return s.httpServer.URL }

// WSURL is the websocket endpoint URL.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/ws"
}

// SetTemplate registers a template document served at /js/<name>.
func (s *Server) SetTemplate(name string, doc []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[name] = doc
}

// SetArtifact stores artifact bytes served under the output root. failures
// is how many initial GETs return 404 before the artifact becomes available,
// simulating write propagation.
func (s *Server) SetArtifact(subfolder, filename string, data []byte, failures int) {
	key := subfolder + "/" + filename
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[key] = data
	s.failCounts[key] = failures
}

// RejectNextPrompt makes the next POST /prompt fail with a 400.
func (s *Server) RejectNextPrompt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectNext = true
}

// Submissions returns the recorded prompt submissions.
func (s *Server) Submissions() []Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Submission, len(s.submissions))
	copy(out, s.submissions)
	return out
}

// SendEvent pushes a typed event to the client's websocket connection.
func (s *Server) SendEvent(clientID, eventType string, data any) error {
	s.mu.Lock()
	conn, ok := s.conns[clientID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("comfytest: no connection for client %q", clientID)
	}
	payload, err := json.Marshal(map[string]any{"type": eventType, "data": data})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// DropConnection closes the client's websocket without a close handshake so
// reconnect behavior can be exercised.
func (s *Server) DropConnection(clientID string) {
	s.mu.Lock()
	conn, ok := s.conns[clientID]
	delete(s.conns, clientID)
	s.mu.Unlock()
	if ok {
		conn.Close()
	}
}

// Connected reports whether a client currently holds a connection.
func (s *Server) Connected(clientID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[clientID]
	return ok
}

func (s *Server) handleTemplate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.mu.Lock()
	doc, ok := s.templates[name]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(doc)
}

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var sub Submission
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	if s.rejectNext {
		s.rejectNext = false
		s.mu.Unlock()
		http.Error(w, `{"error":"invalid prompt"}`, http.StatusBadRequest)
		return
	}
	s.promptSeq++
	seq := s.promptSeq
	s.submissions = append(s.submissions, sub)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"prompt_id": fmt.Sprintf("prompt-%d", seq),
		"number":    seq,
	})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	file.Close()

	// The stored name is authoritative and may differ from the client's;
	// prefix it so tests notice if a caller keeps the original.
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":      "stored_" + header.Filename,
		"subfolder": r.FormValue("subfolder"),
		"type":      r.FormValue("type"),
	})
}

func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "subfolder") + "/" + chi.URLParam(r, "filename")
	s.mu.Lock()
	data, ok := s.artifacts[key]
	if ok && s.failCounts[key] > 0 {
		s.failCounts[key]--
		ok = false
	}
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(data)
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("clientId")
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	if old, ok := s.conns[clientID]; ok {
		old.Close()
	}
	s.conns[clientID] = conn
	s.mu.Unlock()

	// Reads keep the connection alive; the fake backend only pushes.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
