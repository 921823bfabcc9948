package core

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/drew/config"
	"github.com/mohammad-safakhou/drew/internal/llm"
	"github.com/mohammad-safakhou/drew/internal/store"
	"github.com/mohammad-safakhou/drew/internal/telemetry"
	"github.com/mohammad-safakhou/drew/internal/tools"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	apologyResponse       = "I encountered an error processing your request. Please try again."
	defaultProjectName    = "Your Activity Project"
	projectDescriptionMax = 100
	streamBuffer          = 64
)

var orchestratorTracer trace.Tracer = otel.Tracer("drew/internal/agent/core")

// Orchestrator runs the agent chain for one request at a time per call. Runs share
// nothing except the persistent store behind the toolset.
type Orchestrator struct {
	agents     map[string]Agent
	entry      string
	runTimeout time.Duration
	logger     *log.Logger
}

// NewOrchestrator wires the recommendation, itinerary and offerings agents. The
// recommendation agent is the tool-calling variant when cfg.Agents.ToolCalling is set.
func NewOrchestrator(cfg *config.Config, provider LLMProvider, toolset *tools.Toolset, logger *log.Logger) *Orchestrator {
	var rec Agent
	if cfg.Agents.ToolCalling {
		rec = NewToolCallingRecommendationAgent(provider, toolset, cfg.Agents, cfg.LLM.Routing, nil)
	} else {
		rec = NewRecommendationAgent(provider, toolset, cfg.Agents, cfg.LLM.Routing, nil)
	}
	return NewOrchestratorWithAgents(cfg.Agents, logger,
		rec,
		NewItineraryAgent(provider, toolset, cfg.LLM.Routing, nil),
		NewOfferingsAgent(toolset, nil),
	)
}

// NewOrchestratorWithAgents builds an orchestrator over an explicit agent set. Runs
// always enter at the recommendation agent.
func NewOrchestratorWithAgents(cfg config.AgentsConfig, logger *log.Logger, agents ...Agent) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[SUPERVISOR] ", log.LstdFlags)
	}
	o := &Orchestrator{
		agents:     make(map[string]Agent, len(agents)),
		entry:      AgentRecommendation,
		runTimeout: cfg.RunTimeout,
		logger:     logger,
	}
	for _, a := range agents {
		o.agents[a.Name()] = a
	}
	return o
}

type runOptions struct {
	history []llm.Message
}

// RunOption customizes a single run.
type RunOption func(*runOptions)

// WithHistory seeds the run with earlier conversation messages, oldest first.
func WithHistory(history []llm.Message) RunOption {
	return func(o *runOptions) { o.history = history }
}

// Run executes the agent chain and returns its result. Failures, panics included, come
// back as an apology with the error recorded in Metadata["error"].
func (o *Orchestrator) Run(ctx context.Context, prompt, userID, projectID string, opts ...RunOption) Result {
	res, _ := o.run(ctx, "run", prompt, userID, projectID, nil, opts...)
	return res
}

// Stream executes the agent chain and yields progress events in the order they were
// produced, followed by exactly one complete or error event. The channel is closed
// afterwards. Callers must read until close or cancel ctx.
func (o *Orchestrator) Stream(ctx context.Context, prompt, userID, projectID string, opts ...RunOption) <-chan Event {
	out := make(chan Event)
	events := make(chan Event, streamBuffer)

	go func() {
		defer close(events)
		emit := func(ev ProgressEvent) {
			events <- Event{Type: EventAgentState, State: &ev}
		}
		res, err := o.run(ctx, "stream", prompt, userID, projectID, emit, opts...)
		if err != nil {
			events <- Event{Type: EventError, Error: err.Error(), Result: &res}
			return
		}
		events <- Event{Type: EventComplete, Message: res.FinalResponse, RecommendationCount: len(res.Recommendations), Result: &res}
	}()

	go func() {
		defer close(out)
		for ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				// keep draining so the producer can finish
			}
		}
	}()
	return out
}

func (o *Orchestrator) run(ctx context.Context, mode, prompt, userID, projectID string, onProgress func(ProgressEvent), opts ...RunOption) (Result, error) {
	var ro runOptions
	for _, opt := range opts {
		opt(&ro)
	}
	runID := uuid.NewString()
	ctx, span := orchestratorTracer.Start(ctx, "orchestrator."+mode, trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("run.user_id", userID),
		attribute.String("run.project_id", projectID),
	))
	defer span.End()
	if o.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.runTimeout)
		defer cancel()
	}

	start := time.Now()
	st := newState(runID, prompt, userID, projectID, ro.history)
	st.onProgress = onProgress
	o.logger.Printf("run %s started for user %s project %s", runID, userID, projectID)

	err := o.execute(ctx, st)
	telemetry.RunsTotal.WithLabelValues(mode, telemetry.Outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.Printf("run %s failed after %s: %v", runID, time.Since(start), err)
		return apology(st, err), err
	}
	res := buildResult(st)
	span.SetAttributes(
		attribute.Int("run.recommendations", len(res.Recommendations)),
		attribute.StringSlice("run.agents", res.AgentsUsed),
	)
	o.logger.Printf("run %s completed in %s: agents=%v recommendations=%d", runID, time.Since(start), res.AgentsUsed, len(res.Recommendations))
	return res, nil
}

func (o *Orchestrator) execute(ctx context.Context, st *State) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()
	st.Next = o.entry
	for st.Next != Terminal {
		name := st.Next
		if st.Visited(name) {
			o.logger.Printf("run %s: %s already executed, stopping", st.RunID, name)
			break
		}
		agent, ok := o.agents[name]
		if !ok {
			return fmt.Errorf("unknown agent %q", name)
		}
		st.Next = Terminal
		if err := o.executeAgent(ctx, agent, st); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		st.markVisited(name)
	}
	return nil
}

func (o *Orchestrator) executeAgent(ctx context.Context, agent Agent, st *State) error {
	ctx, span := orchestratorTracer.Start(ctx, "agent."+agent.Name(), trace.WithAttributes(attribute.String("run.id", st.RunID)))
	defer span.End()
	err := agent.Execute(ctx, st)
	if err == nil {
		err = ctx.Err()
	}
	telemetry.AgentExecutions.WithLabelValues(agent.Name(), telemetry.Outcome(err)).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func projectMetadata(st *State) ProjectMetadata {
	md := ProjectMetadata{Name: st.ProjectName, Description: st.ProjectDescription}
	if md.Name == "" {
		md.Name = defaultProjectName
	}
	if md.Description == "" {
		r := []rune(st.Prompt)
		if len(r) > projectDescriptionMax {
			r = r[:projectDescriptionMax]
		}
		md.Description = string(r)
	}
	return md
}

func buildResult(st *State) Result {
	recs := st.Recommendations
	if recs == nil {
		recs = []store.Recommendation{}
	}
	final := st.FinalResponse
	if final == "" {
		if len(recs) > 0 {
			final = templatedSummary(recs)
		} else {
			final = clarifyNoResults
		}
	}
	md := map[string]interface{}{
		"userContext":         st.UserContext,
		"recommendationCount": len(recs),
	}
	if len(st.FailedFields) > 0 {
		md["failedFields"] = st.FailedFields
	}
	return Result{
		RunID:           st.RunID,
		FinalResponse:   final,
		Recommendations: recs,
		AgentsUsed:      st.AgentsUsed(),
		ProgressEvents:  st.Events(),
		ProjectMetadata: projectMetadata(st),
		Metadata:        md,
	}
}

func apology(st *State, err error) Result {
	detail := err.Error()
	if errors.Is(err, context.DeadlineExceeded) {
		detail = "run timed out: " + detail
	}
	return Result{
		RunID:           st.RunID,
		FinalResponse:   apologyResponse,
		Recommendations: []store.Recommendation{},
		AgentsUsed:      []string{},
		ProgressEvents:  st.Events(),
		ProjectMetadata: projectMetadata(st),
		Metadata:        map[string]interface{}{"error": detail},
	}
}
