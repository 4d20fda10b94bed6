// Package generation turns pending generation requests into generated file
// maps, choosing providers, falling back to templates, and handing finished
// projects to deployment.
package generation

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/Boendestodet/r3kt.dev-sub000/metrics"
	"github.com/Boendestodet/r3kt.dev-sub000/provider"
	"github.com/Boendestodet/r3kt.dev-sub000/scaffold"
	"github.com/Boendestodet/r3kt.dev-sub000/store"
	"github.com/Boendestodet/r3kt.dev-sub000/types"
)

// Deployer starts a preview after a successful generation. Failures are its
// own to log; they never change the generation outcome.
type Deployer interface {
	AutoStartAfterGeneration(ctx context.Context, project *types.Project)
}

// Orchestrator processes one generation request at a time per call.
type Orchestrator struct {
	store     store.Store
	registry  *scaffold.Registry
	providers *provider.Set
	mock      provider.MockGenerator
	deployer  Deployer
	logger    *zap.Logger
	now       func() time.Time
}

// NewOrchestrator creates an orchestrator. deployer may be nil, in which case
// auto-deploy requests are only logged.
func NewOrchestrator(st store.Store, registry *scaffold.Registry, providers *provider.Set, deployer Deployer, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     st,
		registry:  registry,
		providers: providers,
		deployer:  deployer,
		logger:    logger.Named("generation"),
		now:       time.Now,
	}
}

// Process runs the request through its failover plan. Provider failures and
// panics end as a terminal request status, not as an error; the returned
// error only reports that the request could not be loaded or its outcome
// could not be recorded.
func (o *Orchestrator) Process(ctx context.Context, requestID string) (err error) {
	log := o.logger.With(zap.String("request_id", requestID))

	req, err := o.store.GetGenerationRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load generation request: %w", err)
	}
	if req.Status.Terminal() {
		log.Debug("request already finished", zap.String("status", req.Status.String()))
		return nil
	}
	log = log.With(zap.String("project_id", req.ProjectID))

	// Outcomes are recorded even if the caller's context ends mid-generation.
	saveCtx := context.WithoutCancel(ctx)

	var project *types.Project
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing request", zap.Any("panic", r), zap.Stack("stack"))
			err = o.fail(saveCtx, req, project, fmt.Sprintf("generation failed unexpectedly: %v", r))
		}
	}()

	if req.Status == types.RequestPending {
		if err := req.Advance(types.RequestProcessing); err != nil {
			return err
		}
		if err := o.store.SaveGenerationRequest(saveCtx, req); err != nil {
			return fmt.Errorf("mark request processing: %w", err)
		}
	} else {
		log.Info("resuming request left in processing")
	}

	project, err = o.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return o.fail(saveCtx, req, nil, fmt.Sprintf("project %s not found: %v", req.ProjectID, err))
	}
	project.Status = types.ProjectProcessing
	project.UpdatedAt = o.now()
	if err := o.store.SaveProject(saveCtx, project); err != nil {
		log.Warn("failed to mark project processing", zap.Error(err))
	}

	sc, known, err := o.registry.ForProject(project)
	if err != nil {
		return o.fail(saveCtx, req, project, fmt.Sprintf("resolve stack: %v", err))
	}
	if !known {
		log.Warn("unrecognized stack, using default",
			zap.String("stack", project.StackSetting()), zap.String("default", sc.Stack().String()))
	}

	preferred := project.Settings.PreferredModel
	plan := o.providers.Plan(preferred)
	req.Metadata.RequestedModel = preferred
	req.Metadata.StackType = sc.Stack().String()
	if preferred != "" && !plan.Pinned {
		log.Warn("preferred model has no configured provider, using full failover chain", zap.String("model", preferred))
	}

	for _, p := range plan.Providers {
		plog := log.With(zap.String("provider", p.Name()))
		res, gerr := p.Generate(ctx, provider.Request{Prompt: req.Prompt, Scaffolder: sc, Model: plan.Model})
		if gerr == nil && len(res.Files) == 0 {
			gerr = &provider.Error{Provider: p.Name(), Kind: provider.KindMalformed, Err: provider.ErrNoFiles}
		}
		if gerr == nil {
			return o.complete(saveCtx, req, project, sc, res, p.Name())
		}

		if ctx.Err() != nil {
			return o.interrupted(ctx, req, p.Name())
		}
		plog.Warn("provider failed", zap.String("kind", string(provider.ErrorKind(gerr))), zap.Error(gerr))
		if plan.Pinned {
			return o.fail(saveCtx, req, project,
				fmt.Sprintf("preferred model %s failed: %v", plan.Model, gerr))
		}
	}

	if ctx.Err() != nil {
		return o.interrupted(ctx, req, "")
	}
	if len(plan.Providers) == 0 {
		log.Info("no provider configured, using template generator")
	} else {
		log.Warn("all providers failed, using template generator", zap.Int("attempted", len(plan.Providers)))
	}
	res, merr := o.mock.Generate(req.Prompt, sc)
	if merr != nil {
		return o.fail(saveCtx, req, project, fmt.Sprintf("template generation failed: %v", merr))
	}
	return o.complete(saveCtx, req, project, sc, res, provider.MockName)
}

func (o *Orchestrator) complete(ctx context.Context, req *types.GenerationRequest, project *types.Project, sc scaffold.Scaffolder, res *provider.Result, providerName string) error {
	now := o.now()
	req.Metadata.Provider = providerName
	req.Metadata.Model = res.Model
	if err := req.Complete(res.Files, res.TokensUsed, now); err != nil {
		return err
	}

	project.GeneratedFiles = res.Files
	project.Stack = sc.Stack().String()
	project.MarkReady(now)
	if err := o.store.SaveProject(ctx, project); err != nil {
		return fmt.Errorf("save generated project: %w", err)
	}
	if err := o.store.SaveGenerationRequest(ctx, req); err != nil {
		return fmt.Errorf("save completed request: %w", err)
	}

	metrics.RecordGeneration(providerName, metrics.OutcomeSuccess)
	o.logger.Info("generation completed",
		zap.String("request_id", req.ID),
		zap.String("project_id", project.ID),
		zap.String("provider", providerName),
		zap.String("model", res.Model),
		zap.Int("files", len(res.Files)),
		zap.Int("tokens", res.TokensUsed))

	if req.AutoDeploy {
		if o.deployer == nil {
			o.logger.Warn("auto-deploy requested but no deployer configured", zap.String("request_id", req.ID))
			return nil
		}
		o.deployer.AutoStartAfterGeneration(ctx, project)
	}
	return nil
}

// interrupted leaves the request in processing so the poller resumes it on
// the next start.
func (o *Orchestrator) interrupted(ctx context.Context, req *types.GenerationRequest, providerName string) error {
	o.logger.Warn("generation interrupted, request left in processing",
		zap.String("request_id", req.ID),
		zap.String("provider", providerName),
		zap.Error(ctx.Err()))
	return fmt.Errorf("generation of request %s interrupted: %w", req.ID, ctx.Err())
}

// fail records a terminal failure on the request and, when known, the project.
func (o *Orchestrator) fail(ctx context.Context, req *types.GenerationRequest, project *types.Project, message string) error {
	now := o.now()
	if err := req.Fail(message, now); err != nil {
		o.logger.Warn("request already finished, not recording failure",
			zap.String("request_id", req.ID), zap.String("reason", message), zap.Error(err))
		return nil
	}
	o.logger.Error("generation failed", zap.String("request_id", req.ID), zap.String("reason", message))
	metrics.RecordGeneration("none", metrics.OutcomeFailure)

	var errs error
	if err := o.store.SaveGenerationRequest(ctx, req); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("save failed request: %w", err))
	}
	if project != nil {
		project.MarkError(now)
		if err := o.store.SaveProject(ctx, project); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("save failed project: %w", err))
		}
	}
	return errs
}
