package relay

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"relay/internal/domain/run"
	"relay/internal/domain/transcript"
	"relay/internal/infra/external/subprocess"
	"relay/internal/infra/observability"
	"relay/internal/shared/async"
	sharederrors "relay/internal/shared/errors"
	"relay/internal/shared/logging"
	id "relay/internal/shared/utils/id"
)

// Agent is the external agent collaborator.
type Agent interface {
	Command(workdir, prompt string, resume bool) subprocess.Command
	HasPriorSession(ctx context.Context, workdir string) bool
}

// Journal persists a project's conversation log and requirements document.
type Journal interface {
	AppendRequest(workdir, text string) error
	AppendDecision(workdir, raw, stderr string) error
	AppendAcceptedResponse(workdir, response string) error
}

// Spawner starts agent processes.
type Spawner interface {
	Start(ctx context.Context, cmd subprocess.Command) (*subprocess.Process, error)
}

// Dependencies are the collaborators of an Engine. Logger, Metrics, Tracer
// and Events are optional.
type Dependencies struct {
	Agent     Agent
	Messenger run.Messenger
	Journal   Journal
	Spawner   Spawner
	Logger    logging.Logger
	Metrics   *observability.Metrics
	Tracer    trace.Tracer
	Events    EventSink
}

// Engine runs one agent process per prompt and streams its output to the
// prompt's chat context.
type Engine struct {
	settings  Settings
	agent     Agent
	messenger run.Messenger
	journal   Journal
	files     *FileDelivery
	registry  *Registry
	logger    logging.Logger
	metrics   *observability.Metrics
	tracer    trace.Tracer
	events    EventSink

	spawn      func(ctx context.Context, cmd subprocess.Command) (processHandle, error)
	now        func() time.Time
	finalRetry sharederrors.RetryConfig

	baseCtx context.Context
	wg      sync.WaitGroup
}

// NewEngine validates settings and wires the engine.
func NewEngine(settings Settings, deps Dependencies) (*Engine, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid relay settings: %w", err)
	}
	settings.Mode, _ = run.ParseDisplayMode(string(settings.Mode))
	if deps.Agent == nil {
		return nil, fmt.Errorf("relay engine requires an agent")
	}
	if deps.Messenger == nil {
		return nil, fmt.Errorf("relay engine requires a messenger")
	}
	if deps.Journal == nil {
		return nil, fmt.Errorf("relay engine requires a journal")
	}
	logger := logging.OrNop(deps.Logger)
	spawner := deps.Spawner
	if spawner == nil {
		spawner = subprocess.NewSupervisor(logger)
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = observability.NoopTracer()
	}
	var events EventSink = nopSink{}
	if deps.Events != nil {
		events = deps.Events
	}

	return &Engine{
		settings:  settings,
		agent:     deps.Agent,
		messenger: deps.Messenger,
		journal:   deps.Journal,
		files:     NewFileDelivery(deps.Messenger, settings.MaxMessageSize, logger),
		registry:  NewRegistry(),
		logger:    logger,
		metrics:   deps.Metrics,
		tracer:    tracer,
		events:    events,
		spawn: func(ctx context.Context, cmd subprocess.Command) (processHandle, error) {
			return spawner.Start(ctx, cmd)
		},
		now: time.Now,
		finalRetry: sharederrors.RetryConfig{
			MaxAttempts:  3,
			BaseDelay:    500 * time.Millisecond,
			MaxDelay:     30 * time.Second,
			JitterFactor: 0.1,
		},
		baseCtx: context.Background(),
	}, nil
}

// Settings returns the engine's settings.
func (e *Engine) Settings() Settings {
	return e.settings
}

// Files returns the file delivery helper bound to the engine's messenger.
func (e *Engine) Files() *FileDelivery {
	return e.files
}

// SubmitPrompt reserves chat for a new run and starts it in the background.
// Results arrive through the messenger. It fails fast with ErrRunInProgress
// when chat already has a running agent.
func (e *Engine) SubmitPrompt(ctx context.Context, chat run.ChatContext, text, workdir string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return fmt.Errorf("empty prompt")
	}
	if strings.TrimSpace(workdir) == "" {
		return fmt.Errorf("no working directory")
	}

	runID := id.NewRunID()
	logger := logging.WithLogID(e.logger, runID)
	r := newAgentRun(runID, chat, workdir, text, e.now(), e.settings.VisibleTail, logger)
	if err := e.registry.Insert(r); err != nil {
		return err
	}

	async.GoTracked(&e.wg, logger, "relay-run-"+runID, func() {
		e.execute(r)
	})
	return nil
}

// IsRunning reports whether chat has a running agent.
func (e *Engine) IsRunning(chat run.ChatContext) bool {
	return e.registry.IsRunning(chat)
}

// Terminate stops chat's running agent. The run still finalizes with
// whatever output it produced.
func (e *Engine) Terminate(chat run.ChatContext) error {
	r, ok := e.registry.Get(chat)
	if !ok || !r.IsRunning() {
		return run.ErrNoRunningAgent
	}
	proc := r.process()
	if proc == nil {
		return run.ErrNoRunningAgent
	}
	if !r.killed.CompareAndSwap(false, true) {
		return nil
	}
	r.logger.Info("Terminating run %s for %s on request", r.ID, chat)
	e.terminateAsync(r, proc)
	return nil
}

// Snapshot lists registered runs.
func (e *Engine) Snapshot() []run.Summary {
	now := e.now()
	runs := e.registry.Snapshot()
	out := make([]run.Summary, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Summary(now))
	}
	return out
}

// Shutdown terminates every running agent and waits for the finalizers,
// bounded by ctx.
func (e *Engine) Shutdown(ctx context.Context) error {
	for _, r := range e.registry.Snapshot() {
		if proc := r.process(); proc != nil && r.IsRunning() {
			e.terminateAsync(r, proc)
		}
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("relay shutdown: %w", ctx.Err())
	}
}

func (e *Engine) terminateAsync(r *AgentRun, proc processHandle) {
	async.Go(r.logger, "relay-terminate-"+r.ID, func() {
		if err := proc.Terminate(e.settings.GracePeriod); err != nil {
			r.logger.Error("Terminate run %s (pid %d) failed: %v", r.ID, proc.PID(), err)
		}
	})
}

// execute is the whole life of one run: bookkeeping, spawn, stream, finalize.
func (e *Engine) execute(r *AgentRun) {
	ctx, span := e.tracer.Start(e.baseCtx, "relay.run",
		trace.WithAttributes(observability.RunAttributes(r.ID, r.Chat.ChatID, r.Chat.ThreadID, r.WorkingDir)...),
		trace.WithAttributes(attribute.String(observability.AttrMode, string(e.settings.Mode))),
	)
	defer span.End()
	logger := r.logger

	if err := e.journal.AppendRequest(r.WorkingDir, r.Prompt); err != nil {
		logger.Warn("Record request for %s failed: %v", r.Chat, err)
	}

	placeholder := transcript.ToTelegramMarkdown(fmt.Sprintf("Processing your request in project `%s`...", filepath.Base(r.WorkingDir)))
	messageID, err := sendWithFallback(ctx, e.messenger, r.Chat, placeholder, run.FormatMarkdown)
	if err != nil {
		logger.Warn("Send placeholder to %s failed: %v", r.Chat, err)
		messageID = ""
	}

	resume := e.agent.HasPriorSession(ctx, r.WorkingDir)
	cmd := e.agent.Command(r.WorkingDir, r.Prompt, resume)
	proc, err := e.spawn(ctx, cmd)
	if err != nil {
		e.failToStart(ctx, r, messageID, err, span)
		return
	}
	r.attach(proc, e.now())
	e.metrics.RunStarted()
	span.SetAttributes(attribute.Int(observability.AttrPID, proc.PID()))
	logger.Info("Run %s started for %s in %s (pid %d, resume=%t)", r.ID, r.Chat, r.WorkingDir, proc.PID(), resume)
	e.events.Publish(RunEvent{Type: EventStarted, RunID: r.ID, Chat: r.Chat, State: run.StateRunning, PID: proc.PID(), At: e.now()})

	sched := newScheduler(e.settings, e.messenger, r.Chat, r.acc, messageID, e.now, logger, e.metrics)
	sched.onPush = func(text string) {
		e.events.Publish(RunEvent{Type: EventUpdated, RunID: r.ID, Chat: r.Chat, State: run.StateRunning, Text: text, At: e.now()})
	}

	e.stream(ctx, r, proc, sched)
	e.finalize(ctx, r, sched, span)
}

// stream runs the two readers and the consumer loop until both streams hit
// EOF and the process has exited.
func (e *Engine) stream(ctx context.Context, r *AgentRun, proc processHandle, sched *scheduler) {
	queue := make(chan StreamChunk, e.settings.QueueSize)
	var readers errgroup.Group
	readers.Go(func() error {
		return readStream(SourceStdout, proc.Stdout(), queue, e.settings.ReadSize)
	})
	readers.Go(func() error {
		return readStream(SourceStderr, proc.Stderr(), queue, e.settings.ReadSize)
	})

	consume(queue, proc, e.settings.PollInterval,
		func(chunk StreamChunk) {
			e.metrics.StreamBytes(chunk.Source.String(), len(chunk.Data))
			if chunk.Source == SourceStderr {
				r.acc.AppendStderr(chunk.Data)
				return
			}
			r.acc.AppendStdout(chunk.Data)
		},
		func() {
			e.enforceCeiling(r, proc, e.now())
			sched.Tick(ctx)
		},
	)

	if err := readers.Wait(); err != nil {
		r.logger.Warn("Reading output of run %s failed: %v", r.ID, err)
	}
	proc.CloseOutputs()
}

// enforceCeiling terminates r once it has run past the wall-clock timeout.
func (e *Engine) enforceCeiling(r *AgentRun, proc processHandle, now time.Time) bool {
	if proc.Exited() || now.Sub(r.StartedAt()) <= e.settings.Timeout {
		return false
	}
	if !r.markTimedOut() {
		return false
	}
	r.logger.Warn("Run %s for %s exceeded %s, terminating pid %d", r.ID, r.Chat, e.settings.Timeout, proc.PID())
	e.terminateAsync(r, proc)
	return true
}

func (e *Engine) failToStart(ctx context.Context, r *AgentRun, messageID string, cause error, span trace.Span) {
	r.logger.Error("Start agent for %s in %s failed: %v", r.Chat, r.WorkingDir, cause)
	span.RecordError(cause)
	text := fmt.Sprintf("Failed to start the agent: %v", cause)
	var err error
	if messageID != "" {
		err = editWithFallback(ctx, e.messenger, r.Chat, messageID, text, run.FormatPlain)
	} else {
		_, err = e.messenger.SendMessage(ctx, r.Chat, text, run.FormatPlain)
	}
	if err != nil {
		r.logger.Warn("Report start failure to %s failed: %v", r.Chat, err)
	}
	r.finalized.Store(true)
	r.setState(run.StateFailed)
	e.registry.Remove(r)
	e.events.Publish(RunEvent{Type: EventFinished, RunID: r.ID, Chat: r.Chat, State: run.StateFailed, Text: text, At: e.now()})
}
