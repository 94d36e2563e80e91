package gateway

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"kana-backend/internal/artifacts"
	"kana-backend/internal/pipeline/pipelinetest"
	"kana-backend/internal/records"
	"kana-backend/internal/references"
	"kana-backend/internal/shared/storage/object"
	"kana-backend/internal/stages"
)

type streamed struct {
	Type  string     `json:"type"`
	Final bool       `json:"final"`
	Error *ErrorInfo `json:"error"`
}

func newTestRouter(t *testing.T) (*gin.Engine, *Broker) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := object.NewMemoryStore()
	arts := &artifacts.Service{Store: store, Repo: artifacts.NewMemoryRepo()}
	recs := &records.Service{Store: store, Repo: records.NewMemoryRepo(), Artifacts: arts}
	broker := NewBroker(Deps{
		Env:        stages.Env{Threads: 1},
		References: references.NewStore(nil, ""),
		Artifacts:  arts,
		Records:    recs,
	}, 2)
	t.Cleanup(broker.Close)

	r := gin.New()
	NewHandler(broker, recs).RegisterRoutes(r.Group("/api/v1"))
	return r, broker
}

func openSession(t *testing.T, r *gin.Engine) string {
	t.Helper()
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
	if w.Code != http.StatusCreated {
		t.Fatalf("open session status = %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || body.ID == "" {
		t.Fatalf("open session body = %s", w.Body.String())
	}
	return body.ID
}

func postCommand(t *testing.T, r *gin.Engine, session string, cmd any) (*httptest.ResponseRecorder, []streamed) {
	t.Helper()
	body, err := json.Marshal(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/"+session+"/commands", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var out []streamed
	sc := bufio.NewScanner(strings.NewReader(w.Body.String()))
	sc.Buffer(make([]byte, 1<<20), 64<<20)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		var s streamed
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data:")), &s); err != nil {
			t.Fatalf("decode event %q: %v", line, err)
		}
		out = append(out, s)
	}
	return w, out
}

func TestSessionCommandStream(t *testing.T) {
	r, _ := newTestRouter(t)
	session := openSession(t, r)

	w, events := postCommand(t, r, session, map[string]any{"type": TypeInit})
	if w.Code != http.StatusOK {
		t.Fatalf("INIT status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("content type = %q", ct)
	}
	if len(events) != 1 || events[0].Type != TypeInit || !events[0].Final {
		t.Fatalf("INIT events = %+v", events)
	}

	files, _ := json.Marshal(map[string]any{"inputs": map[string]any{"files": pipelinetest.Files()}})
	_, events = postCommand(t, r, session, map[string]any{"type": TypePreflight, "payload": json.RawMessage(files)})
	if len(events) != 1 || events[0].Type != "PREFLIGHT_INPUT_DATA" {
		t.Fatalf("preflight events = %+v", events)
	}

	_, events = postCommand(t, r, session, map[string]any{"type": "nope"})
	if len(events) != 1 || events[0].Error == nil || events[0].Error.Kind != "protocol" {
		t.Fatalf("unknown command events = %+v", events)
	}
}

func TestSessionLifecycle(t *testing.T) {
	r, broker := newTestRouter(t)
	first := openSession(t, r)
	openSession(t, r)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("third session status = %d, want 503", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+first, nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if broker.Len() != 1 {
		t.Fatalf("sessions = %d, want 1", broker.Len())
	}

	w, _ = postCommand(t, r, first, map[string]any{"type": TypeInit})
	if w.Code != http.StatusNotFound {
		t.Fatalf("command on closed session status = %d", w.Code)
	}
}

func TestCommandRequiresType(t *testing.T) {
	r, _ := newTestRouter(t)
	session := openSession(t, r)
	w, _ := postCommand(t, r, session, map[string]any{"id": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestListRecords(t *testing.T) {
	r, _ := newTestRouter(t)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/records", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"records":[]}` {
		t.Fatalf("body = %s", w.Body.String())
	}
}
