// Package mockbigdbm serves an in-memory imitation of the BigDBM intent and
// data APIs for local harness runs and client tests.
package mockbigdbm

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// Call records a request made to the mock service.
type Call struct {
	Method string
	Path   string
}

// Event is one intent event as served by /intent/result.
type Event struct {
	MD5      string `json:"mD5"`
	Sentence string `json:"sentence"`
}

// ListRequest records a createList payload.
type ListRequest struct {
	StartDate    string `json:"StartDate"`
	EndDate      string `json:"EndDate"`
	IABs         string `json:"IABs"`
	Zips         string `json:"Zips"`
	Keywords     string `json:"Keywords"`
	Domains      string `json:"Domains"`
	NumberOfHems int    `json:"NumberOfHems"`
}

// Fixture is the on-disk form of the server's data.
type Fixture struct {
	Events []Event `json:"events"`
	// People maps an identifier to its raw data API row.
	People map[string]map[string]any `json:"people"`
}

// ReadFixture decodes a JSON fixture.
func ReadFixture(r io.Reader) (Fixture, error) {
	var f Fixture
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	return f, nil
}

type list struct {
	req    ListRequest
	events []Event
	checks int
}

type fault struct {
	status    int
	remaining int
}

// Server implements the minimal endpoint surface the client uses.
type Server struct {
	mu sync.Mutex

	clientID     string
	clientSecret string
	token        string
	tokenTTL     int
	tokensIssued int

	startDate string
	endDate   string

	events   []Event
	people   map[string]map[string]any
	pageSize int

	pendingChecks int
	failLists     bool

	nextList int
	lists    map[int]*list
	requests []ListRequest
	calls    []Call
	faults   map[string]*fault
}

// New constructs a server that accepts the given client credentials.
func New(clientID, clientSecret string) *Server {
	return &Server{
		clientID:     clientID,
		clientSecret: clientSecret,
		token:        "mock-access-token",
		tokenTTL:     3600,
		startDate:    "2024-01-01",
		endDate:      "2024-01-31",
		people:       make(map[string]map[string]any),
		pageSize:     100,
		nextList:     1000,
		lists:        make(map[int]*list),
		faults:       make(map[string]*fault),
	}
}

// Load replaces the served events and people with the fixture contents.
func (s *Server) Load(f Fixture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append([]Event(nil), f.Events...)
	s.people = make(map[string]map[string]any, len(f.People))
	for k, v := range f.People {
		s.people[k] = v
	}
}

// SetPageSize sets how many events each result page holds.
func (s *Server) SetPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n > 0 {
		s.pageSize = n
	}
}

// SetTokenTTL sets the expires_in value, in seconds, of issued tokens.
func (s *Server) SetTokenTTL(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = seconds
}

// SetPendingChecks makes each list report "processing" for n status checks
// before completing.
func (s *Server) SetPendingChecks(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingChecks = n
}

// FailLists makes every list finish with an error status.
func (s *Server) FailLists(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLists = fail
}

// FailNext makes the next n requests to path answer with status.
func (s *Server) FailNext(path string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[path] = &fault{status: status, remaining: n}
}

// Handler returns an http.Handler that serves the mock API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/token", s.handleToken)
	mux.HandleFunc("/intent/configData", s.authorized(s.handleConfigData))
	mux.HandleFunc("/intent/createList", s.authorized(s.handleCreateList))
	mux.HandleFunc("/intent/checkList", s.authorized(s.handleCheckList))
	mux.HandleFunc("/intent/result", s.authorized(s.handleResult))
	mux.HandleFunc("/GetDataBy/Md5", s.authorized(s.handleData))
	return mux
}

// Calls returns a snapshot of calls made to the server.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many requests hit path.
func (s *Server) CallCount(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Path == path {
			n++
		}
	}
	return n
}

// ListRequests returns a snapshot of createList payloads.
func (s *Server) ListRequests() []ListRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ListRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// TokensIssued returns how many access tokens were handed out.
func (s *Server) TokensIssued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokensIssued
}

// begin records the call and applies any injected fault. It reports
// whether the handler should continue.
func (s *Server) begin(w http.ResponseWriter, r *http.Request) bool {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: r.Method, Path: r.URL.Path})
	f := s.faults[r.URL.Path]
	status := 0
	if f != nil && f.remaining > 0 {
		f.remaining--
		status = f.status
	}
	s.mu.Unlock()

	if status != 0 {
		writeError(w, status, "injected failure")
		return false
	}
	return true
}

func (s *Server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.begin(w, r) {
			return
		}
		s.mu.Lock()
		expected := "Bearer " + s.token
		s.mu.Unlock()
		if r.Header.Get("Authorization") != expected {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if !s.begin(w, r) {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.PostForm.Get("grant_type") != "client_credentials" ||
		r.PostForm.Get("client_id") != s.clientID ||
		r.PostForm.Get("client_secret") != s.clientSecret {
		writeError(w, http.StatusUnauthorized, "invalid_client")
		return
	}
	s.tokensIssued++
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": s.token,
		"token_type":   "Bearer",
		"expires_in":   s.tokenTTL,
	})
}

func (s *Server) handleConfigData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"startDate": s.startDate, "endDate": s.endDate})
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req ListRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.StartDate == "" || req.EndDate == "" {
		writeError(w, http.StatusBadRequest, "StartDate and EndDate are required")
		return
	}
	if req.IABs == "" && req.Keywords == "" && req.Domains == "" {
		writeError(w, http.StatusBadRequest, "one of IABs, Keywords or Domains is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	id := s.nextList
	s.nextList++
	s.lists[id] = &list{req: req, events: s.selectEvents(req.NumberOfHems)}
	writeJSON(w, http.StatusOK, map[string]any{"listQueueId": id})
}

// selectEvents returns every event whose identifier is among the first n
// distinct identifiers. Callers hold s.mu.
func (s *Server) selectEvents(n int) []Event {
	if n <= 0 {
		return nil
	}
	keep := make(map[string]struct{}, n)
	var out []Event
	for _, ev := range s.events {
		if _, ok := keep[ev.MD5]; !ok {
			if len(keep) >= n {
				continue
			}
			keep[ev.MD5] = struct{}{}
		}
		out = append(out, ev)
	}
	return out
}

func (s *Server) handleCheckList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id, err := strconv.Atoi(r.URL.Query().Get("listQueueId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid listQueueId")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[id]
	if !ok {
		writeError(w, http.StatusNotFound, "list not found")
		return
	}
	l.checks++
	status := 100
	switch {
	case l.checks <= s.pendingChecks:
		status = 2
	case s.failLists:
		status = 101
	}
	writeJSON(w, http.StatusOK, map[string]any{"listQueueId": id, "status": status})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		ListQueueID int `json:"ListQueueId"`
		Page        int `json:"Page"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[req.ListQueueID]
	if !ok {
		writeError(w, http.StatusNotFound, "list not found")
		return
	}
	pages := (len(l.events) + s.pageSize - 1) / s.pageSize
	if pages == 0 {
		pages = 1
	}
	if req.Page < 1 || req.Page > pages {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("page %d out of range 1..%d", req.Page, pages))
		return
	}
	start := (req.Page - 1) * s.pageSize
	end := min(start+s.pageSize, len(l.events))
	writeJSON(w, http.StatusOK, map[string]any{
		"totalCount": pages,
		"result":     l.events[start:end],
	})
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req struct {
		RequestID  string   `json:"RequestId"`
		ObjectList []string `json:"ObjectList"`
		OutputID   int      `json:"OutputId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.RequestID) == "" || req.OutputID == 0 {
		writeError(w, http.StatusBadRequest, "RequestId and OutputId are required")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data := make(map[string][]map[string]any, len(req.ObjectList))
	for _, md5 := range req.ObjectList {
		if row, ok := s.people[md5]; ok {
			data[md5] = []map[string]any{row}
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"requestId": req.RequestID, "returnData": data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": http.StatusText(status), "message": msg})
}
