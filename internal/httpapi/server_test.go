package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meridian-lab/fathom/internal/dialogue"
	"github.com/meridian-lab/fathom/internal/llm"
	"github.com/meridian-lab/fathom/internal/models"
	"github.com/meridian-lab/fathom/internal/resilience"
	"github.com/meridian-lab/fathom/internal/search"
	"github.com/meridian-lab/fathom/internal/session"
	"github.com/meridian-lab/fathom/internal/streaming"
	"github.com/meridian-lab/fathom/internal/workflows"
)

// scriptedCompleter serves canned responses keyed by purpose. Each
// purpose pops from its queue; the last entry repeats.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses map[string][]string
	failures  map[string]error
}

func newScriptedCompleter() *scriptedCompleter {
	return &scriptedCompleter{
		responses: make(map[string][]string),
		failures:  make(map[string]error),
	}
}

func (s *scriptedCompleter) set(purpose string, texts ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[purpose] = texts
	delete(s.failures, purpose)
}

func (s *scriptedCompleter) fail(purpose string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[purpose] = err
}

func (s *scriptedCompleter) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failures[req.Purpose]; err != nil {
		return nil, err
	}
	queue := s.responses[req.Purpose]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted response for purpose %q", req.Purpose)
	}
	text := queue[0]
	if len(queue) > 1 {
		s.responses[req.Purpose] = queue[1:]
	}
	return &llm.CompletionResponse{Text: text, TokensUsed: 10}, nil
}

type scriptedInvoker struct{}

func (s *scriptedInvoker) InvokeAgent(ctx context.Context, req dialogue.AgentRequest) (dialogue.AgentReply, error) {
	return dialogue.AgentReply{
		Message:    fmt.Sprintf("%s position for round %d [Surface: Study X]", req.AgentType, req.Round),
		Reasoning:  "scripted",
		Confidence: 0.8,
	}, nil
}

type scriptedProvider struct{ name string }

func (p *scriptedProvider) Name() string { return p.name }

func (p *scriptedProvider) Search(ctx context.Context, term string, limit int) ([]models.SearchResult, error) {
	return []models.SearchResult{{
		Title:          fmt.Sprintf("%s finding on %q", p.name, term),
		Content:        "finding body",
		URL:            fmt.Sprintf("https://example.com/%s/%s", p.name, term),
		RelevanceScore: 0.8,
	}}, nil
}

const (
	clarifyJSON   = `{"refinedQuery": "quantum error correction progress", "requirements": ["recent results"], "answerFormat": "report"}`
	planJSON      = `{"surfaceTerms": ["quantum error correction"], "socialTerms": ["qec debate"], "rationale": "covers both registers"}`
	factsJSON     = `{"facts": [{"claim": "Surface codes crossed the threshold", "source": "web", "relevanceScore": 0.9}]}`
	analysisJSON  = `{"summary": "The evidence covers the question.", "themes": ["error correction"], "evidenceSufficient": true}`
	selectionJSON = `{"inductive": {"temperature": 0.7, "focus": "experiments"}, "deductive": {"temperature": 0.4, "focus": "theory"}, "rationale": "complementary"}`
	alignmentJSON = `{"riskLevel": "low", "recommendation": "proceed"}`
	concludeJSON  = `{"qualityScore": 0.9, "convergence": 0.9, "decision": "conclude"}`
	synthesisJSON = `{"report": "Final report. [Surface: Study X]", "keyFindings": ["surface codes lead"], "confidence": 0.8}`
)

type apiRig struct {
	handler   http.Handler
	completer *scriptedCompleter
	events    *streaming.Manager
}

func newAPIRig(t *testing.T) *apiRig {
	t.Helper()

	srv := miniredis.RunT(t)
	logger := zaptest.NewLogger(t)

	sessions, err := session.NewManager(session.Config{RedisURL: "redis://" + srv.Addr()}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { sessions.Close() })

	events := streaming.NewManager(streaming.Config{})
	executor := resilience.NewExecutor(&streaming.RetryObserver{Events: events}, logger)
	policy := resilience.NewPolicy(0, time.Millisecond)

	completer := newScriptedCompleter()
	aggregator := search.NewAggregator(search.Config{
		PerTermLimit:  5,
		FallbackTerms: []string{"fallback topic"},
		Retry:         policy,
	}, []search.Provider{&scriptedProvider{name: "web"}}, executor, nil, logger)

	engine := dialogue.NewEngine(dialogue.Config{MaxRounds: 3}, &scriptedInvoker{}, completer, executor, policy, logger)

	controller := workflows.NewController(workflows.Config{TopResults: 5, Retry: policy}, workflows.Dependencies{
		Sessions: sessions,
		Search:   aggregator,
		LLM:      completer,
		Dialogue: engine,
		Events:   events,
		Executor: executor,
		Logger:   logger,
	})

	server := NewServer(controller, events, nil, logger)
	return &apiRig{
		handler:   server.Routes(),
		completer: completer,
		events:    events,
	}
}

func (rig *apiRig) scriptHappyPath() {
	rig.completer.set("clarify", clarifyJSON)
	rig.completer.set("search_planning", planJSON)
	rig.completer.set("fact_extraction", factsJSON)
	rig.completer.set("analysis", analysisJSON)
	rig.completer.set("agent_selection", selectionJSON)
	rig.completer.set("alignment", alignmentJSON)
	rig.completer.set("evaluator", concludeJSON)
	rig.completer.set("synthesis", synthesisJSON)
}

func (rig *apiRig) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	rig.handler.ServeHTTP(rr, req)
	return rr
}

func (rig *apiRig) createSession(t *testing.T, query string) string {
	t.Helper()
	rr := rig.do(t, http.MethodPost, "/api/v1/sessions", fmt.Sprintf(`{"query": %q}`, query))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var sess models.ResearchSession
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sess))
	return sess.ID
}

func decodeSession(t *testing.T, rr *httptest.ResponseRecorder) models.ResearchSession {
	t.Helper()
	var sess models.ResearchSession
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &sess), rr.Body.String())
	return sess
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body
}

func TestCreateSessionEndpoint(t *testing.T) {
	rig := newAPIRig(t)

	rr := rig.do(t, http.MethodPost, "/api/v1/sessions", `{"query": "how do surface codes work?"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	sess := decodeSession(t, rr)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, models.StageIntentClarification, sess.Stage)
	assert.Equal(t, models.StatusActive, sess.Status)

	rr = rig.do(t, http.MethodPost, "/api/v1/sessions", `{"query": "  "}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeError(t, rr).Message, "query")

	rr = rig.do(t, http.MethodPost, "/api/v1/sessions", `{"query": `)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = rig.do(t, http.MethodPost, "/api/v1/sessions", `{"query": "x", "bogus": 1}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestGetSessionEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	id := rig.createSession(t, "orca communication research")

	rr := rig.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "orca communication research", decodeSession(t, rr).Query)

	rr = rig.do(t, http.MethodGet, "/api/v1/sessions/no-such-session", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "session not found", decodeError(t, rr).Message)
}

func TestListSessionsEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	rig.createSession(t, "first question")
	rig.createSession(t, "second question")

	var list struct {
		Sessions []sessionSummary `json:"sessions"`
		Count    int              `json:"count"`
	}

	rr := rig.do(t, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 2, list.Count)
	assert.Len(t, list.Sessions, 2)

	rr = rig.do(t, http.MethodGet, "/api/v1/sessions?limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)

	rr = rig.do(t, http.MethodGet, "/api/v1/sessions?limit=nope", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDeleteSessionEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	id := rig.createSession(t, "disposable question")

	rr := rig.do(t, http.MethodDelete, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = rig.do(t, http.MethodGet, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = rig.do(t, http.MethodDelete, "/api/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPipelineOverHTTP(t *testing.T) {
	rig := newAPIRig(t)
	rig.scriptHappyPath()
	id := rig.createSession(t, "how far along is quantum error correction?")
	base := "/api/v1/sessions/" + id

	rr := rig.do(t, http.MethodPost, base+"/clarify-intent", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.StageSearchPlanning, decodeSession(t, rr).Stage)

	rr = rig.do(t, http.MethodPost, base+"/start-research", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sess := decodeSession(t, rr)
	assert.Equal(t, models.StageAgentSelection, sess.Stage)
	assert.NotEmpty(t, sess.ResearchData.Results)
	assert.NotEmpty(t, sess.ResearchData.Facts)

	rr = rig.do(t, http.MethodPost, base+"/select-agents", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, models.StageDialogue, decodeSession(t, rr).Stage)

	var round struct {
		Session models.ResearchSession     `json:"session"`
		Turns   []models.AgentDialogueTurn `json:"turns"`
	}
	rr = rig.do(t, http.MethodPost, base+"/agent-dialogue", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &round))
	assert.Len(t, round.Turns, 2)
	assert.Equal(t, models.StageDialogue, round.Session.Stage)

	var verdict struct {
		Session    models.ResearchSession  `json:"session"`
		Evaluation *models.RoundEvaluation `json:"evaluation"`
	}
	rr = rig.do(t, http.MethodPost, base+"/evaluate-dialogue", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &verdict))
	require.NotNil(t, verdict.Evaluation)
	assert.Equal(t, models.DecisionConclude, verdict.Evaluation.Decision)
	assert.Equal(t, models.StageSynthesis, verdict.Session.Stage)

	rr = rig.do(t, http.MethodPost, base+"/synthesize", "")
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	sess = decodeSession(t, rr)
	assert.Equal(t, models.StageCompleted, sess.Stage)
	assert.Equal(t, models.StatusCompleted, sess.Status)

	rr = rig.do(t, http.MethodGet, base+"/findings", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var data models.ResearchData
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &data))
	assert.NotEmpty(t, data.Results)

	rr = rig.do(t, http.MethodGet, base+"/dialogue", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"rounds":1`)

	rr = rig.do(t, http.MethodGet, base+"/report", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var report models.SynthesisResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &report))
	assert.Contains(t, report.Report, "Final report")

	rr = rig.do(t, http.MethodGet, base+"/events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), streaming.EventSessionCompleted)
}

func TestStageOrderViolationReturns409(t *testing.T) {
	rig := newAPIRig(t)
	id := rig.createSession(t, "premature synthesis")

	rr := rig.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/synthesize", "")
	require.Equal(t, http.StatusConflict, rr.Code)
	body := decodeError(t, rr)
	assert.Contains(t, body.Message, "requires stage")
	assert.Equal(t, models.StageIntentClarification, body.Stage)
}

func TestReportUnavailableBeforeSynthesis(t *testing.T) {
	rig := newAPIRig(t)
	id := rig.createSession(t, "no report yet")

	rr := rig.do(t, http.MethodGet, "/api/v1/sessions/"+id+"/report", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	body := decodeError(t, rr)
	assert.Equal(t, "synthesis report not available", body.Message)
	assert.Equal(t, models.StageIntentClarification, body.Stage)
}

func TestStageFailureSurfacesPosition(t *testing.T) {
	rig := newAPIRig(t)
	rig.completer.fail("clarify", fmt.Errorf("sidecar exploded"))
	id := rig.createSession(t, "doomed question")

	rr := rig.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/clarify-intent", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body := decodeError(t, rr)
	assert.Contains(t, body.Message, "sidecar exploded")
	assert.Equal(t, models.StageIntentClarification, body.Stage)
	assert.Equal(t, models.StatusFailed, body.Status)
}

func TestEventsReplayEndpoint(t *testing.T) {
	rig := newAPIRig(t)
	for i := 0; i < 3; i++ {
		rig.events.Publish(streaming.Event{SessionID: "sess-1", Type: streaming.EventStageStarted})
	}

	var replay struct {
		Events []streaming.Event `json:"events"`
		Count  int               `json:"count"`
	}

	rr := rig.do(t, http.MethodGet, "/api/v1/sessions/sess-1/events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &replay))
	assert.Equal(t, 3, replay.Count)

	rr = rig.do(t, http.MethodGet, "/api/v1/sessions/sess-1/events?since=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &replay))
	require.Len(t, replay.Events, 1)
	assert.Equal(t, uint64(3), replay.Events[0].Seq)

	rr = rig.do(t, http.MethodGet, "/api/v1/sessions/sess-1/events?since=oops", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = rig.do(t, http.MethodGet, "/api/v1/sessions/unknown/events", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &replay))
	assert.Zero(t, replay.Count)
}

func TestMetricsEndpointServes(t *testing.T) {
	rig := newAPIRig(t)

	rr := rig.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "fathom_sessions_created_total")
}
