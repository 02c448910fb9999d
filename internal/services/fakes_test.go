package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lllllllleong/engineeringdocs/internal/apperr"
	"github.com/Lllllllleong/engineeringdocs/internal/models"
	"github.com/Lllllllleong/engineeringdocs/internal/retry"
)

func noSleep(context.Context, time.Duration) error { return nil }

func testCaller() *retry.Caller {
	return retry.New(retry.WithSleep(noSleep))
}

// --- DocumentStore ---

type fakeStore struct {
	mu          sync.Mutex
	projects    map[string]*models.Project
	docs        map[string]*models.Document // key: projectID/docID
	listErr     error
	progressErr error
	appendErr   error
	claims      int
	progress    []int
	turns       []models.Turn
}

func newFakeStore() *fakeStore {
	return &fakeStore{projects: map[string]*models.Project{}, docs: map[string]*models.Document{}}
}

func docKey(projectID, documentID string) string { return projectID + "/" + documentID }

func (s *fakeStore) addProject(p *models.Project) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[p.ID] = p
}

func (s *fakeStore) addDocument(d *models.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Date(2026, 1, 1, 0, 0, len(s.docs), 0, time.UTC)
	}
	cp := *d
	s.docs[docKey(d.ProjectID, d.ID)] = &cp
}

func (s *fakeStore) doc(projectID, documentID string) models.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.docs[docKey(projectID, documentID)]
}

func (s *fakeStore) GetProject(_ context.Context, projectID string) (*models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) ListDocuments(_ context.Context, projectID string) ([]*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []*models.Document
	for _, d := range s.docs {
		if d.ProjectID == projectID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *fakeStore) GetDocument(_ context.Context, projectID, documentID string) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docKey(projectID, documentID)]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (s *fakeStore) ClaimDocument(_ context.Context, projectID, documentID string) (*models.Document, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docKey(projectID, documentID)]
	if !ok {
		return nil, false, apperr.ErrNotFound
	}
	if d.ProcessingState != models.StatePending {
		cp := *d
		return &cp, false, nil
	}
	s.claims++
	d.ProcessingState = models.StateProcessing
	cp := *d
	return &cp, true, nil
}

func (s *fakeStore) RecordRemoteHandle(_ context.Context, projectID, documentID string, handle models.FileHandle, info models.SourceInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[docKey(projectID, documentID)]
	if d.ProcessingState != models.StateProcessing {
		return models.ErrInvalidTransition
	}
	h := handle
	d.RemoteHandle = &h
	d.FileHash = info.FileHash
	d.PageCount = info.PageCount
	return nil
}

func (s *fakeStore) CompleteDocument(_ context.Context, projectID, documentID string, state models.ProcessingState, handle *models.FileHandle, details string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.docs[docKey(projectID, documentID)]
	if !models.CanTransition(d.ProcessingState, state) {
		return models.ErrInvalidTransition
	}
	d.ProcessingState = state
	if handle != nil {
		h := *handle
		d.RemoteHandle = &h
	}
	d.ErrorDetails = details
	if state == models.StateActive {
		d.ActivationProgress = 100
	}
	return nil
}

func (s *fakeStore) UpdateActivationProgress(_ context.Context, projectID, documentID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.progressErr != nil {
		return s.progressErr
	}
	s.progress = append(s.progress, progress)
	d := s.docs[docKey(projectID, documentID)]
	if !d.ProcessingState.IsTerminal() {
		d.ActivationProgress = progress
	}
	return nil
}

func (s *fakeStore) AppendTurns(_ context.Context, projectID string, turns ...models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	s.turns = append(s.turns, turns...)
	if p, ok := s.projects[projectID]; ok {
		p.Transcript = append(p.Transcript, turns...)
	}
	return nil
}

func (s *fakeStore) appendedTurns() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Turn(nil), s.turns...)
}

// --- ObjectStore ---

type fakeObjects struct {
	mu        sync.Mutex
	objects   map[string][]byte
	errs      map[string]error
	uploadErr error
	downloads atomic.Int32
	uploaded  map[string][]byte
	signed    []string
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{objects: map[string][]byte{}, errs: map[string]error{}, uploaded: map[string][]byte{}}
}

func (o *fakeObjects) Download(_ context.Context, locator string) ([]byte, error) {
	o.downloads.Add(1)
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.errs[locator]; err != nil {
		return nil, err
	}
	b, ok := o.objects[locator]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", locator, apperr.ErrNotFound)
	}
	return b, nil
}

func (o *fakeObjects) Upload(_ context.Context, data []byte, locator, _ string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.uploadErr != nil {
		return o.uploadErr
	}
	o.uploaded[locator] = data
	return nil
}

func (o *fakeObjects) SignedURL(_ context.Context, locator string, _ time.Duration) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.signed = append(o.signed, locator)
	return "https://signed.example/" + locator, nil
}

// --- FileRegistry ---

type pollStep struct {
	handle models.FileHandle
	err    error
}

type fakeRegistry struct {
	mu          sync.Mutex
	registerErr []error // consumed one per call; nil entries succeed
	handle      models.FileHandle
	steps       []pollStep // consumed one per GetFile; last step repeats
	registers   atomic.Int32
	gets        atomic.Int32
	panicOnGet  bool
	registered  []byte
}

func (r *fakeRegistry) RegisterFile(_ context.Context, rd io.Reader, _ string, _ string) (models.FileHandle, error) {
	r.registers.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.registerErr) > 0 {
		err := r.registerErr[0]
		r.registerErr = r.registerErr[1:]
		if err != nil {
			return models.FileHandle{}, err
		}
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return models.FileHandle{}, err
	}
	r.registered = b
	return r.handle, nil
}

func (r *fakeRegistry) GetFile(_ context.Context, name string) (models.FileHandle, error) {
	r.gets.Add(1)
	if r.panicOnGet {
		panic("registry exploded")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.steps) == 0 {
		return models.FileHandle{}, errors.New("no poll steps configured")
	}
	step := r.steps[0]
	if len(r.steps) > 1 {
		r.steps = r.steps[1:]
	}
	if step.err != nil {
		return models.FileHandle{}, step.err
	}
	h := step.handle
	if h.Name == "" {
		h.Name = name
	}
	return h, nil
}

// --- Generator ---

type fakeGenerator struct {
	mu       sync.Mutex
	generate func(call int, req models.GenerationRequest) (string, error)
	stream   func(call int, req models.GenerationRequest) (models.TextStream, error)
	genCalls int
	strCalls int
	requests []models.GenerationRequest
}

func (g *fakeGenerator) Generate(_ context.Context, req models.GenerationRequest) (string, error) {
	g.mu.Lock()
	g.genCalls++
	call := g.genCalls
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.generate == nil {
		return "", errors.New("generate not configured")
	}
	return g.generate(call, req)
}

func (g *fakeGenerator) GenerateStream(_ context.Context, req models.GenerationRequest) (models.TextStream, error) {
	g.mu.Lock()
	g.strCalls++
	call := g.strCalls
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.stream == nil {
		return nil, errors.New("stream not configured")
	}
	return g.stream(call, req)
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.genCalls + g.strCalls
}

func (g *fakeGenerator) lastRequest() models.GenerationRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.requests[len(g.requests)-1]
}

type chunkStream struct {
	chunks []string
	err    error // returned after chunks instead of io.EOF
	pos    int
	closed bool
}

func (s *chunkStream) Next() (string, error) {
	if s.pos < len(s.chunks) {
		c := s.chunks[s.pos]
		s.pos++
		return c, nil
	}
	if s.err != nil {
		return "", s.err
	}
	return "", io.EOF
}

func (s *chunkStream) Close() error {
	s.closed = true
	return nil
}

// --- Embedder / SimilaritySearcher / Renderer ---

type fakeEmbedder struct {
	err   error
	calls atomic.Int32
}

func (e *fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	e.calls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

type fakeSearcher struct {
	matches    []models.Match
	err        error
	lastFilter map[string]string
	lastTopK   int
}

func (s *fakeSearcher) Query(_ context.Context, _ []float32, topK int, filter map[string]string) ([]models.Match, error) {
	s.lastFilter = filter
	s.lastTopK = topK
	if s.err != nil {
		return nil, s.err
	}
	return s.matches, nil
}

type fakeRenderer struct {
	err    error
	markup string
	calls  atomic.Int32
}

func (r *fakeRenderer) RenderToDocument(_ context.Context, markup string, _ models.RenderOptions) ([]byte, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	r.markup = markup
	return []byte("%PDF-1.7 rendered"), nil
}
