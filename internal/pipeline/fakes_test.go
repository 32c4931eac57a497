package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashureev/campaign-center/internal/domain"
	"github.com/ashureev/campaign-center/internal/generation"
	"github.com/ashureev/campaign-center/internal/history"
)

// scriptedGenerator answers research and draft prompts separately.
type scriptedGenerator struct {
	mu          sync.Mutex
	brief       string
	briefErr    error
	draft       string
	draftErr    error
	draftPanics bool
	prompts     []generation.Prompt
}

func (g *scriptedGenerator) Generate(_ context.Context, p generation.Prompt) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	g.mu.Unlock()

	if strings.Contains(p.System, "trend analyst") {
		return g.brief, g.briefErr
	}
	if g.draftPanics {
		panic("model client exploded")
	}
	return g.draft, g.draftErr
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type fakeHistory struct {
	mu        sync.Mutex
	past      []history.PastContent
	searchErr error
	storeErr  error
	queries   []string
	stored    []string
}

func (h *fakeHistory) Search(_ context.Context, query string, _ int) ([]history.PastContent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.queries = append(h.queries, query)
	return h.past, h.searchErr
}

func (h *fakeHistory) Store(_ context.Context, campaignID, platform, _ string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stored = append(h.stored, campaignID+"_"+platform)
	return h.storeErr
}

// fakePublisher succeeds unless the platform is listed in fail.
type fakePublisher struct {
	mu     sync.Mutex
	fail   map[domain.Platform]bool
	panics bool
	calls  []domain.Platform
}

func (p *fakePublisher) Publish(_ context.Context, piece *domain.ContentPiece) bool {
	p.mu.Lock()
	p.calls = append(p.calls, piece.Platform)
	p.mu.Unlock()

	if p.panics {
		panic("nil transport")
	}
	if p.fail[piece.Platform] {
		return false
	}
	piece.Published = true
	return true
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.AgentEvent
}

func (s *recordingSink) Publish(_ context.Context, ev domain.AgentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all() []domain.AgentEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.AgentEvent(nil), s.events...)
}

func (s *recordingSink) finals() []domain.AgentEvent {
	var out []domain.AgentEvent
	for _, ev := range s.all() {
		if ev.IsFinal() {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) byAgent(agent domain.AgentName) []domain.AgentEvent {
	var out []domain.AgentEvent
	for _, ev := range s.all() {
		if ev.Agent == agent {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	gen       *scriptedGenerator
	history   *fakeHistory
	publisher *fakePublisher
	sink      *recordingSink
	orch      *Orchestrator
}

func newHarness() *harness {
	h := &harness{
		gen: &scriptedGenerator{
			brief: "Lead with a contrarian hook about on-call fatigue.",
			draft: `{"content": "On-call is broken.\n\nHere is how we fixed it.", "hashtags": ["sre", "oncall"]}`,
		},
		history:   &fakeHistory{},
		publisher: &fakePublisher{fail: map[domain.Platform]bool{}},
		sink:      &recordingSink{},
	}
	h.orch = New(Deps{
		Generator: h.gen,
		History:   h.history,
		Publisher: h.publisher,
		Events:    h.sink,
		Pacer:     NoPacer{},
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return h
}

func request(autoPublish bool, platforms ...domain.Platform) domain.CampaignRequest {
	if len(platforms) == 0 {
		platforms = []domain.Platform{domain.PlatformLinkedIn}
	}
	req := domain.CampaignRequest{Topic: "on-call culture", Platforms: platforms, AutoPublish: autoPublish}
	req.Normalize()
	return req
}

var errModelDown = errors.New("model unavailable")
