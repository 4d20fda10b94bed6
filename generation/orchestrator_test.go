package generation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Boendestodet/r3kt.dev-sub000/provider"
	"github.com/Boendestodet/r3kt.dev-sub000/scaffold"
	"github.com/Boendestodet/r3kt.dev-sub000/store"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

type fakeProvider struct {
	name       string
	configured bool
	err        error
	panics     bool
	files      map[string]string
	onGenerate func() // Runs before the result is returned

	mu    sync.Mutex
	calls []provider.Request
}

func (f *fakeProvider) Name() string       { return f.name }
func (f *fakeProvider) IsConfigured() bool { return f.configured }

func (f *fakeProvider) Generate(_ context.Context, req provider.Request) (*provider.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.onGenerate != nil {
		f.onGenerate()
	}
	if f.panics {
		panic("provider exploded")
	}
	if f.err != nil {
		return nil, &provider.Error{Provider: f.name, Kind: provider.KindTransport, Err: f.err}
	}
	return &provider.Result{Files: f.files, TokensUsed: 1234, Model: f.name + "-1"}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeDeployer struct {
	mu       sync.Mutex
	projects []string
}

func (f *fakeDeployer) AutoStartAfterGeneration(_ context.Context, p *types.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects = append(f.projects, p.ID)
}

var testChain = provider.Chain{
	Priority: []string{"alpha", "beta"},
	Models:   map[string]string{"alpha-1": "alpha", "beta-1": "beta"},
}

type fixture struct {
	store    *store.MemoryStore
	alpha    *fakeProvider
	beta     *fakeProvider
	deployer *fakeDeployer
	orch     *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    store.NewMemoryStore(),
		alpha:    &fakeProvider{name: "alpha", configured: true, files: map[string]string{"app/page.tsx": "alpha page"}},
		beta:     &fakeProvider{name: "beta", configured: true, files: map[string]string{"app/page.tsx": "beta page"}},
		deployer: &fakeDeployer{},
	}
	set := provider.NewSet(testChain, f.alpha, f.beta)
	f.orch = NewOrchestrator(f.store, scaffold.NewRegistry(), set, f.deployer, zaptest.NewLogger(t))
	return f
}

func (f *fixture) seed(t *testing.T, settings types.ProjectSettings, prompt string, autoDeploy bool) (*types.Project, *types.GenerationRequest) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	p := &types.Project{ID: "proj-1", Name: "Coffee", Settings: settings, Status: types.ProjectDraft, CreatedAt: now, UpdatedAt: now}
	r := &types.GenerationRequest{ID: "req-1", ProjectID: p.ID, Prompt: prompt, Status: types.RequestPending, AutoDeploy: autoDeploy, CreatedAt: now}
	require.NoError(t, f.store.SaveProject(ctx, p))
	require.NoError(t, f.store.SaveGenerationRequest(ctx, r))
	return p, r
}

func (f *fixture) results(t *testing.T) (*types.Project, *types.GenerationRequest) {
	t.Helper()
	ctx := context.Background()
	p, err := f.store.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	r, err := f.store.GetGenerationRequest(ctx, "req-1")
	require.NoError(t, err)
	return p, r
}

func TestPinnedProviderSuccess(t *testing.T) {
	f := newFixture(t)
	f.seed(t, types.ProjectSettings{Stack: "Next.js", PreferredModel: "beta-1"}, "a bakery site", true)

	require.NoError(t, f.orch.Process(context.Background(), "req-1"))

	p, r := f.results(t)
	assert.Equal(t, types.RequestCompleted, r.Status)
	assert.Equal(t, "beta", r.Metadata.Provider)
	assert.Equal(t, "beta-1", r.Metadata.RequestedModel)
	assert.Equal(t, "nextjs", r.Metadata.StackType)
	assert.Equal(t, 1234, r.TokensUsed)
	assert.NotNil(t, r.ProcessedAt)
	assert.Equal(t, types.ProjectReady, p.Status)
	assert.Equal(t, "beta page", p.GeneratedFiles["app/page.tsx"])
	assert.Equal(t, 0, f.alpha.callCount())
	require.Equal(t, 1, f.beta.callCount())
	assert.Equal(t, "beta-1", f.beta.calls[0].Model)
	assert.Equal(t, []string{"proj-1"}, f.deployer.projects)
}

func TestPinnedProviderFailureIsFinal(t *testing.T) {
	f := newFixture(t)
	f.alpha.err = errors.New("503 from upstream")
	f.seed(t, types.ProjectSettings{PreferredModel: "alpha-1"}, "a bakery site", true)

	require.NoError(t, f.orch.Process(context.Background(), "req-1"))

	p, r := f.results(t)
	assert.Equal(t, types.RequestFailed, r.Status)
	require.NotNil(t, r.Result)
	assert.Contains(t, r.Result.Error, "alpha-1")
	assert.Equal(t, types.ProjectError, p.Status)
	assert.Equal(t, 1, f.alpha.callCount())
	assert.Equal(t, 0, f.beta.callCount(), "no other provider may be tried")
	assert.Empty(t, f.deployer.projects)
}

func TestCancelledPinnedGenerationStaysProcessing(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.alpha.err = context.Canceled
	f.alpha.onGenerate = cancel
	f.seed(t, types.ProjectSettings{PreferredModel: "alpha-1"}, "a bakery site", true)

	err := f.orch.Process(ctx, "req-1")
	assert.ErrorIs(t, err, context.Canceled)

	p, r := f.results(t)
	assert.Equal(t, types.RequestProcessing, r.Status)
	assert.Nil(t, r.Result)
	assert.Equal(t, types.ProjectProcessing, p.Status)
	assert.Empty(t, f.deployer.projects)
}

func TestCancelledGenerationSkipsTemplateFallback(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.alpha.err = context.Canceled
	f.alpha.onGenerate = cancel
	f.seed(t, types.ProjectSettings{Stack: "static"}, "a bakery site", false)

	err := f.orch.Process(ctx, "req-1")
	assert.ErrorIs(t, err, context.Canceled)

	p, r := f.results(t)
	assert.Equal(t, types.RequestProcessing, r.Status)
	assert.Empty(t, r.Metadata.Provider)
	assert.Empty(t, p.GeneratedFiles)
	assert.Equal(t, 0, f.beta.callCount())
}

func TestFailoverToNextProvider(t *testing.T) {
	f := newFixture(t)
	f.alpha.err = errors.New("timeout")
	f.seed(t, types.ProjectSettings{}, "a bakery site", false)

	require.NoError(t, f.orch.Process(context.Background(), "req-1"))

	_, r := f.results(t)
	assert.Equal(t, types.RequestCompleted, r.Status)
	assert.Equal(t, "beta", r.Metadata.Provider)
	assert.Equal(t, 1, f.alpha.callCount())
	assert.Empty(t, f.deployer.projects, "auto-deploy was not requested")
}

func TestUnknownPreferredModelUsesFullChain(t *testing.T) {
	f := newFixture(t)
	f.seed(t, types.ProjectSettings{PreferredModel: "some-new-model"}, "a bakery site", false)

	require.NoError(t, f.orch.Process(context.Background(), "req-1"))

	_, r := f.results(t)
	assert.Equal(t, "alpha", r.Metadata.Provider)
	assert.Empty(t, f.alpha.calls[0].Model)
}

func TestAllProvidersFailFallsBackToTemplate(t *testing.T) {
	f := newFixture(t)
	f.alpha.err = errors.New("bad gateway")
	f.beta.err = errors.New("unauthorized")
	f.seed(t, types.ProjectSettings{Stack: "SvelteKit"}, "a portfolio for a photographer", false)

	require.NoError(t, f.orch.Process(context.Background(), "req-1"))

	p, r := f.results(t)
	assert.Equal(t, types.RequestCompleted, r.Status)
	assert.Equal(t, provider.MockName, r.Metadata.Provider)
	assert.Equal(t, provider.MockTokens, r.TokensUsed)
	assert.Equal(t, types.ProjectReady, p.Status)
	assert.Equal(t, "sveltekit", p.Stack)

	sc, err := scaffold.NewRegistry().Get(scaffold.StackSvelteKit)
	require.NoError(t, err)
	for _, path := range sc.RequiredFiles() {
		assert.Contains(t, r.Result.Files, path)
	}
}

func TestCoffeeBlogWithoutProviders(t *testing.T) {
	f := newFixture(t)
	f.alpha.configured = false
	f.beta.configured = false
	f.seed(t, types.ProjectSettings{Stack: "Next.js"}, "Build me a blog about coffee", false)

	require.NoError(t, f.orch.Process(context.Background(), "req-1"))

	_, r := f.results(t)
	assert.Equal(t, types.RequestCompleted, r.Status)
	assert.Equal(t, provider.MockName, r.Metadata.Provider)

	sc, err := scaffold.NewRegistry().Get(scaffold.StackNextJS)
	require.NoError(t, err)
	assert.Contains(t, r.Result.Files[sc.PagePath()], "theme-blog")
	assert.Contains(t, r.Result.Files[sc.StylesheetPath()], "/* blog theme */")
	assert.Equal(t, 0, f.alpha.callCount()+f.beta.callCount())
}

func TestProviderPanicBecomesFailure(t *testing.T) {
	f := newFixture(t)
	f.alpha.panics = true
	f.seed(t, types.ProjectSettings{PreferredModel: "alpha-1"}, "anything", false)

	require.NotPanics(t, func() {
		assert.NoError(t, f.orch.Process(context.Background(), "req-1"))
	})

	p, r := f.results(t)
	assert.Equal(t, types.RequestFailed, r.Status)
	assert.Contains(t, r.Result.Error, "provider exploded")
	assert.Equal(t, types.ProjectError, p.Status)
}

func TestMissingProjectFailsRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.store.SaveGenerationRequest(ctx, &types.GenerationRequest{
		ID: "req-1", ProjectID: "gone", Prompt: "x", Status: types.RequestPending, CreatedAt: time.Now(),
	}))

	require.NoError(t, f.orch.Process(ctx, "req-1"))

	r, err := f.store.GetGenerationRequest(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, types.RequestFailed, r.Status)
}

func TestFinishedRequestIsNotReprocessed(t *testing.T) {
	f := newFixture(t)
	f.seed(t, types.ProjectSettings{}, "a bakery site", false)
	require.NoError(t, f.orch.Process(context.Background(), "req-1"))
	require.NoError(t, f.orch.Process(context.Background(), "req-1"))

	assert.Equal(t, 1, f.alpha.callCount())
}

func TestUnknownRequest(t *testing.T) {
	f := newFixture(t)
	err := f.orch.Process(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
