// Package enginetest provides an in-memory engine REST API for tests of
// packages built on the engine client.
package enginetest

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/basekick-labs/lakebench/internal/engine"
	"github.com/rs/zerolog"
)

// Password is the only password the fake login accepts.
const Password = "secret"

// Statement is a submitted SQL request.
type Statement struct {
	SQL     string   `json:"sql"`
	Context []string `json:"context,omitempty"`
	JobID   string   `json:"-"`
}

// Request is any recorded API call other than login.
type Request struct {
	Method string
	Path   string // decoded, without the /api/v3 prefix
	Body   []byte
}

// Outcome is the terminal state and error message of a job.
type Outcome struct {
	State        string
	ErrorMessage string
}

// Server is a fake engine. Every statement runs for one poll (RUNNING) and
// then reaches the state chosen by Outcome, COMPLETED by default.
type Server struct {
	*httptest.Server

	// Outcome decides the terminal state of a statement. Nil completes everything.
	Outcome func(sql string) Outcome

	mu         sync.Mutex
	logins     int
	statements []Statement
	requests   []Request
	jobs       map[string][]Outcome
	routes     map[string]http.HandlerFunc
	nextID     int
}

// New starts a fake engine that is closed with the test.
func New(t testing.TB) *Server {
	s := &Server{
		jobs:   map[string][]Outcome{},
		routes: map[string]http.HandlerFunc{},
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Server.Close)
	return s
}

// Client returns an engine client that logs in to the fake with password auth.
func (s *Server) Client(t testing.TB) *engine.Client {
	t.Helper()
	c, err := engine.NewClient(&engine.Config{
		BaseURL:         s.URL,
		Username:        "admin",
		Password:        Password,
		PollInterval:    time.Millisecond,
		NotFoundRetries: 2,
		Logger:          zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("failed to create engine client: %v", err)
	}
	return c
}

// Handle overrides the response for method and path (path without /api/v3).
func (s *Server) Handle(method, path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.routes[method+" "+path] = h
}

// HandleJSON answers method and path with status and a JSON body.
func (s *Server) HandleJSON(method, path string, status int, body any) {
	s.Handle(method, path, func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, status, body)
	})
}

// WriteJSON writes body as JSON with the given status.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Logins returns how many successful logins happened.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Statements returns the submitted statements in order.
func (s *Server) Statements() []Statement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Statement(nil), s.statements...)
}

// SQL returns the submitted SQL text in order.
func (s *Server) SQL() []string {
	var out []string
	for _, st := range s.Statements() {
		out = append(out, st.SQL)
	}
	return out
}

// Requests returns the recorded calls matching method and path.
func (s *Server) Requests(method, path string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Request
	for _, r := range s.requests {
		if r.Method == method && r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	if r.URL.Path == "/apiv2/login" {
		var req struct {
			Password string `json:"password"`
		}
		json.Unmarshal(body, &req)
		if req.Password != Password {
			WriteJSON(w, http.StatusUnauthorized, map[string]string{"errorMessage": "Login failed"})
			return
		}
		s.mu.Lock()
		s.logins++
		s.mu.Unlock()
		WriteJSON(w, http.StatusOK, map[string]string{"token": "faketoken"})
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v3")

	s.mu.Lock()
	s.requests = append(s.requests, Request{Method: r.Method, Path: path, Body: body})
	h, ok := s.routes[r.Method+" "+path]
	s.mu.Unlock()

	if r.Header.Get("Authorization") == "" {
		WriteJSON(w, http.StatusUnauthorized, map[string]string{"errorMessage": "missing credentials"})
		return
	}
	if ok {
		h(w, r)
		return
	}

	switch {
	case r.Method == http.MethodPost && path == "/sql":
		s.submit(w, body)
	case r.Method == http.MethodGet && strings.HasPrefix(path, "/job/"):
		s.status(w, strings.TrimPrefix(path, "/job/"))
	case r.Method == http.MethodPost && path == "/catalog":
		var entity map[string]any
		if json.Unmarshal(body, &entity) != nil || entity == nil {
			entity = map[string]any{}
		}
		entity["id"] = s.id("entity")
		WriteJSON(w, http.StatusOK, entity)
	case r.Method == http.MethodPost && strings.HasPrefix(path, "/catalog/"):
		WriteJSON(w, http.StatusOK, map[string]string{"id": s.id("dataset"), "entityType": "dataset"})
	case r.Method == http.MethodPost && path == "/reflection/recommendations":
		WriteJSON(w, http.StatusOK, map[string]any{"data": []any{}})
	case r.Method == http.MethodPost && path == "/reflection":
		WriteJSON(w, http.StatusOK, map[string]string{"id": s.id("reflection")})
	default:
		WriteJSON(w, http.StatusNotFound, map[string]string{"errorMessage": "not found: " + path})
	}
}

func (s *Server) id(prefix string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return prefix + "-" + strconv.Itoa(s.nextID)
}

func (s *Server) submit(w http.ResponseWriter, body []byte) {
	var st Statement
	if err := json.Unmarshal(body, &st); err != nil {
		WriteJSON(w, http.StatusBadRequest, map[string]string{"errorMessage": err.Error()})
		return
	}

	final := Outcome{State: "COMPLETED"}
	if s.Outcome != nil {
		final = s.Outcome(st.SQL)
	}

	st.JobID = s.id("job")
	s.mu.Lock()
	s.statements = append(s.statements, st)
	s.jobs[st.JobID] = []Outcome{{State: "RUNNING"}, final}
	s.mu.Unlock()

	WriteJSON(w, http.StatusOK, map[string]string{"id": st.JobID})
}

func (s *Server) status(w http.ResponseWriter, id string) {
	s.mu.Lock()
	states, ok := s.jobs[id]
	var current Outcome
	if ok {
		current = states[0]
		if len(states) > 1 {
			s.jobs[id] = states[1:]
		}
	}
	s.mu.Unlock()

	if !ok {
		WriteJSON(w, http.StatusNotFound, map[string]string{"errorMessage": "job not found"})
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobState":     current.State,
		"rowCount":     1,
		"errorMessage": current.ErrorMessage,
	})
}
