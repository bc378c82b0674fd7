package telegram

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"relay/internal/app/workbench"
	"relay/internal/domain/run"
	"relay/internal/domain/transcript"
	"relay/internal/infra/external/subprocess"
	"relay/internal/infra/projects"
	"relay/internal/infra/watcher"
	"relay/internal/shared/async"
	"relay/internal/shared/logging"
)

const (
	updateDedupCacheSize = 2048
	updateDedupTTL       = 10 * time.Minute
	pollErrorBackoff     = 2 * time.Second
	defaultPollTimeout   = 30 * time.Second
	defaultMessageSize   = 4096
)

// Runner starts and stops agent runs. *relay.Engine implements it.
type Runner interface {
	SubmitPrompt(ctx context.Context, chat run.ChatContext, text, workdir string) error
	IsRunning(chat run.ChatContext) bool
	Terminate(chat run.ChatContext) error
}

// FileSender delivers a project file into a chat.
type FileSender interface {
	Deliver(ctx context.Context, chat run.ChatContext, path string) error
}

// Executor runs project files. *workbench.Executor implements it.
type Executor interface {
	Command(path string, params []string) (subprocess.Command, error)
	Run(ctx context.Context, dir, path string, params []string) (workbench.ExecResult, error)
}

// Reviewer drafts requirements rewrites. *workbench.Reviewer implements it.
type Reviewer interface {
	Propose(ctx context.Context, dir, current string) (string, error)
	Revise(ctx context.Context, dir, proposal, feedback string) (string, error)
}

// Config tunes the gateway.
type Config struct {
	AuthorizedChatIDs []int64
	PollTimeout       time.Duration
	MaxMessageSize    int
	// ReminderEvery suggests /context after every n-th prompt to a project.
	// Zero disables the reminder.
	ReminderEvery int
	// Watch enables project change notices; WatchConfig tunes them.
	Watch       bool
	WatchConfig watcher.Config
}

// Dependencies are the collaborators a Gateway dispatches to.
type Dependencies struct {
	API       API
	Messenger *Messenger
	Runner    Runner
	Files     FileSender
	Workspace *projects.Workspace
	State     *projects.StateStore
	// Executor and Reviewer are optional; their commands report that they
	// are unavailable when nil.
	Executor Executor
	Reviewer Reviewer
	Logger   logging.Logger
}

// Gateway polls Bot API updates and turns them into project commands and
// agent prompts.
type Gateway struct {
	cfg        Config
	api        API
	messenger  *Messenger
	runner     Runner
	files      FileSender
	workspace  *projects.Workspace
	state      *projects.StateStore
	executor   Executor
	reviewer   Reviewer
	watchers   *watcher.Manager
	authorized map[int64]struct{}
	logger     logging.Logger

	dedupMu    sync.Mutex
	dedupCache *lru.Cache[int, time.Time]
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration)

	// jobs tracks executions, archives and reviews running off the poll loop.
	jobs sync.WaitGroup
}

// NewGateway validates deps and builds a Gateway.
func NewGateway(cfg Config, deps Dependencies) (*Gateway, error) {
	switch {
	case deps.API == nil:
		return nil, fmt.Errorf("telegram gateway requires an API client")
	case deps.Runner == nil:
		return nil, fmt.Errorf("telegram gateway requires a runner")
	case deps.Workspace == nil || deps.State == nil:
		return nil, fmt.Errorf("telegram gateway requires a workspace and state store")
	case deps.Files == nil:
		return nil, fmt.Errorf("telegram gateway requires a file sender")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMessageSize
	}
	dedupCache, err := lru.New[int, time.Time](updateDedupCacheSize)
	if err != nil {
		return nil, fmt.Errorf("telegram update deduper init: %w", err)
	}
	logger := logging.OrNop(deps.Logger)
	messenger := deps.Messenger
	if messenger == nil {
		messenger = NewMessenger(deps.API, logger)
	}

	authorized := make(map[int64]struct{}, len(cfg.AuthorizedChatIDs))
	for _, chatID := range cfg.AuthorizedChatIDs {
		authorized[chatID] = struct{}{}
	}
	g := &Gateway{
		cfg:        cfg,
		api:        deps.API,
		messenger:  messenger,
		runner:     deps.Runner,
		files:      deps.Files,
		workspace:  deps.Workspace,
		state:      deps.State,
		executor:   deps.Executor,
		reviewer:   deps.Reviewer,
		authorized: authorized,
		logger:     logger,
		dedupCache: dedupCache,
		now:        time.Now,
		sleep:      sleepCtx,
	}
	if cfg.Watch {
		g.watchers = watcher.NewManager(cfg.WatchConfig, g.notifyChanges, logger)
	}
	return g, nil
}

// Run polls until ctx is done. Polling resumes after the last update id
// recorded in the state file.
func (g *Gateway) Run(ctx context.Context) error {
	g.restoreWatchers(ctx)
	defer func() {
		g.jobs.Wait()
		if g.watchers != nil {
			g.watchers.Close()
		}
	}()

	g.logger.Info("Telegram gateway polling from update %d", g.state.LastUpdateID()+1)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		updates, err := fetchUpdates(g.api, g.state.LastUpdateID()+1, int(g.cfg.PollTimeout/time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			g.logger.Error("Telegram getUpdates failed: %v. Retrying in %s", err, pollErrorBackoff)
			g.sleep(ctx, pollErrorBackoff)
			continue
		}
		for _, update := range updates {
			g.dispatch(ctx, update)
		}
	}
}

// dispatch handles one update and advances the persisted offset even when
// the handler fails.
func (g *Gateway) dispatch(ctx context.Context, update incoming) {
	defer func() {
		if err := g.state.SetLastUpdateID(update.UpdateID); err != nil {
			g.logger.Warn("Persist update offset %d failed: %v", update.UpdateID, err)
		}
	}()
	if g.isDuplicateUpdate(update.UpdateID) {
		g.logger.Warn("Telegram duplicate update skipped: update_id=%d", update.UpdateID)
		return
	}
	defer async.Recover(g.logger, "telegram.dispatch")
	g.handle(ctx, update)
}

func (g *Gateway) handle(ctx context.Context, update incoming) {
	if update.Chat.ChatID == 0 {
		return
	}
	if !g.isAuthorized(update.Chat) {
		g.logger.Warn("Unauthorized access attempt from %s (%s)", update.Chat, update.Sender)
		if update.Callback == nil {
			g.reply(ctx, update.Chat, "*You are not authorized to use this bot.*")
		}
		return
	}
	if update.Callback != nil {
		g.handleCallback(ctx, update.Chat, *update.Callback)
		return
	}
	if g.handleReviewReply(ctx, update) {
		return
	}
	if update.Document != nil {
		g.reply(ctx, update.Chat, "Files are only accepted while reviewing the requirements with /context.")
		return
	}
	if update.Voice {
		g.reply(ctx, update.Chat, "Voice messages are not supported. Please send your request as text.")
		return
	}
	g.handleText(ctx, update.Chat, update.Text)
}

func (g *Gateway) isAuthorized(chat run.ChatContext) bool {
	_, ok := g.authorized[chat.ChatID]
	return ok
}

func (g *Gateway) isDuplicateUpdate(updateID int) bool {
	g.dedupMu.Lock()
	defer g.dedupMu.Unlock()

	now := g.now()
	if ts, ok := g.dedupCache.Get(updateID); ok {
		if now.Sub(ts) <= updateDedupTTL {
			return true
		}
		g.dedupCache.Remove(updateID)
	}
	g.dedupCache.Add(updateID, now)
	return false
}

// reply sends text as Telegram Markdown split into message-sized segments,
// resending a segment plain when its formatting is rejected.
func (g *Gateway) reply(ctx context.Context, chat run.ChatContext, text string) {
	for _, segment := range transcript.Split(transcript.ToTelegramMarkdown(text), g.cfg.MaxMessageSize) {
		_, err := g.messenger.SendMessage(ctx, chat, segment, run.FormatMarkdown)
		if errors.Is(err, run.ErrRichTextRejected) {
			_, err = g.messenger.SendMessage(ctx, chat, segment, run.FormatPlain)
		}
		if err != nil {
			g.logger.Warn("Reply to %s failed: %v", chat, err)
			return
		}
	}
}

// background runs fn off the poll loop. Run waits for it before returning.
func (g *Gateway) background(name string, fn func()) {
	async.GoTracked(&g.jobs, g.logger, name, fn)
}

func (g *Gateway) restoreWatchers(ctx context.Context) {
	if g.watchers == nil {
		return
	}
	for key, dir := range g.state.Contexts() {
		if _, err := run.ParseChatKey(key); err != nil {
			g.logger.Warn("Skipping watcher for %q: %v", key, err)
			continue
		}
		if err := g.watchers.Watch(ctx, key, dir); err != nil {
			g.logger.Warn("Restore watcher for %s on %s failed: %v", key, dir, err)
		}
	}
}

func (g *Gateway) watch(ctx context.Context, chat run.ChatContext, dir string) {
	if g.watchers == nil {
		return
	}
	if err := g.watchers.Watch(ctx, chat.Key(), dir); err != nil {
		g.logger.Warn("Watch %s for %s failed: %v", dir, chat, err)
	}
}

// notifyChanges announces project changes unless an agent run in that chat
// is the likely author; its own output reports them.
func (g *Gateway) notifyChanges(key string, changes []watcher.Change) {
	if len(changes) == 0 {
		return
	}
	chat, err := run.ParseChatKey(key)
	if err != nil {
		return
	}
	if g.runner.IsRunning(chat) {
		g.logger.Debug("Suppressing %d project changes for %s during a run", len(changes), chat)
		return
	}
	g.reply(context.Background(), chat, watcher.Summary(changes))
}

func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
