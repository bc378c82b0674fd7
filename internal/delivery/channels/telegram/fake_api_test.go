package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/require"

	"relay/internal/app/workbench"
	"relay/internal/domain/run"
	"relay/internal/infra/external/subprocess"
	"relay/internal/infra/projects"
)

type apiCall struct {
	Endpoint string
	Params   tgbotapi.Params
	Files    []tgbotapi.RequestFile
}

// fakeAPI records every Bot API request. Errors queued per endpoint are
// returned in order before normal responses resume.
type fakeAPI struct {
	mu      sync.Mutex
	calls   []apiCall
	nextID  int
	errs    map[string][]error
	updates [][]byte
	onEmpty func()
	// fileBase is where GetFileDirectURL points; see serveFiles.
	fileBase string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{errs: map[string][]error{}}
}

func (f *fakeAPI) failNext(endpoint string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[endpoint] = append(f.errs[endpoint], err)
}

func (f *fakeAPI) queueUpdates(raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, []byte(raw))
}

func (f *fakeAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, apiCall{Endpoint: endpoint, Params: params})
	if queued := f.errs[endpoint]; len(queued) > 0 {
		f.errs[endpoint] = queued[1:]
		f.mu.Unlock()
		return &tgbotapi.APIResponse{Ok: false}, queued[0]
	}
	switch endpoint {
	case "sendMessage":
		f.nextID++
		id := f.nextID
		f.mu.Unlock()
		return &tgbotapi.APIResponse{Ok: true, Result: []byte(fmt.Sprintf(`{"message_id":%d}`, id))}, nil
	case "getUpdates":
		if len(f.updates) > 0 {
			next := f.updates[0]
			f.updates = f.updates[1:]
			f.mu.Unlock()
			return &tgbotapi.APIResponse{Ok: true, Result: next}, nil
		}
		onEmpty := f.onEmpty
		f.mu.Unlock()
		if onEmpty != nil {
			onEmpty()
		}
		return &tgbotapi.APIResponse{Ok: true, Result: []byte(`[]`)}, nil
	default:
		f.mu.Unlock()
		return &tgbotapi.APIResponse{Ok: true, Result: []byte(`true`)}, nil
	}
}

func (f *fakeAPI) UploadFiles(endpoint string, params tgbotapi.Params, files []tgbotapi.RequestFile) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{Endpoint: endpoint, Params: params, Files: files})
	return &tgbotapi.APIResponse{Ok: true, Result: []byte(`{"message_id":99}`)}, nil
}

func (f *fakeAPI) GetFileDirectURL(fileID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{Endpoint: "getFile", Params: tgbotapi.Params{"file_id": fileID}})
	if f.fileBase == "" {
		return "", &tgbotapi.Error{Code: 400, Message: "Bad Request: invalid file_id"}
	}
	return f.fileBase + "/" + fileID, nil
}

// serveFiles answers downloads of the given file ids.
func (f *fakeAPI) serveFiles(t *testing.T, files map[string]string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content, ok := files[strings.TrimPrefix(r.URL.Path, "/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = io.WriteString(w, content)
	}))
	t.Cleanup(srv.Close)
	f.mu.Lock()
	f.fileBase = srv.URL
	f.mu.Unlock()
}

func (f *fakeAPI) callsTo(endpoint string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, call := range f.calls {
		if call.Endpoint == endpoint {
			out = append(out, call)
		}
	}
	return out
}

// texts returns the text of every sendMessage and editMessageText call.
func (f *fakeAPI) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.calls {
		if call.Endpoint == "sendMessage" || call.Endpoint == "editMessageText" {
			out = append(out, call.Params["text"])
		}
	}
	return out
}

type submission struct {
	Chat    run.ChatContext
	Text    string
	Workdir string
}

type fakeRunner struct {
	mu          sync.Mutex
	submissions []submission
	running     map[string]bool
	submitErr   error
	terminated  []run.ChatContext
}

func (r *fakeRunner) SubmitPrompt(_ context.Context, chat run.ChatContext, text, workdir string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.submitErr != nil {
		return r.submitErr
	}
	r.submissions = append(r.submissions, submission{Chat: chat, Text: text, Workdir: workdir})
	return nil
}

func (r *fakeRunner) IsRunning(chat run.ChatContext) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running[chat.Key()]
}

func (r *fakeRunner) Terminate(chat run.ChatContext) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running[chat.Key()] {
		return run.ErrNoRunningAgent
	}
	r.terminated = append(r.terminated, chat)
	return nil
}

type fakeFiles struct {
	mu        sync.Mutex
	delivered []string
}

func (f *fakeFiles) Deliver(_ context.Context, _ run.ChatContext, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delivered = append(f.delivered, path)
	return nil
}

type execution struct {
	Dir    string
	Path   string
	Params []string
}

// fakeExecutor accepts .py files and answers every run with result.
type fakeExecutor struct {
	mu     sync.Mutex
	runs   []execution
	result workbench.ExecResult
}

func (e *fakeExecutor) Command(path string, params []string) (subprocess.Command, error) {
	if filepath.Ext(path) != ".py" {
		return subprocess.Command{}, workbench.ErrUnsupportedFile
	}
	return subprocess.Command{Path: "python3", Args: append([]string{path}, params...)}, nil
}

func (e *fakeExecutor) Run(_ context.Context, dir, path string, params []string) (workbench.ExecResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.runs = append(e.runs, execution{Dir: dir, Path: path, Params: params})
	result := e.result
	result.File = filepath.Base(path)
	return result, nil
}

func (e *fakeExecutor) executions() []execution {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]execution(nil), e.runs...)
}

// fakeReviewer numbers its drafts so revisions are distinguishable.
type fakeReviewer struct {
	mu       sync.Mutex
	feedback []string
	drafts   int
	failWith error
}

func (r *fakeReviewer) Propose(context.Context, string, string) (string, error) {
	return r.next("")
}

func (r *fakeReviewer) Revise(_ context.Context, _, _, feedback string) (string, error) {
	return r.next(feedback)
}

func (r *fakeReviewer) next(feedback string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return "", r.failWith
	}
	if feedback != "" {
		r.feedback = append(r.feedback, feedback)
	}
	r.drafts++
	return fmt.Sprintf("# Requirements v%d", r.drafts), nil
}

type gatewayFixture struct {
	gateway   *Gateway
	api       *fakeAPI
	runner    *fakeRunner
	files     *fakeFiles
	executor  *fakeExecutor
	reviewer  *fakeReviewer
	workspace *projects.Workspace
	state     *projects.StateStore
}

var authorizedChat = run.ChatContext{ChatID: 42}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()
	root := t.TempDir()
	workspace, err := projects.NewWorkspace(projects.Config{Root: root}, nil)
	require.NoError(t, err)
	state, err := projects.OpenStateStore(filepath.Join(root, ".relay_state.json"), nil)
	require.NoError(t, err)

	api := newFakeAPI()
	runner := &fakeRunner{running: map[string]bool{}}
	files := &fakeFiles{}
	executor := &fakeExecutor{}
	reviewer := &fakeReviewer{}
	gateway, err := NewGateway(Config{AuthorizedChatIDs: []int64{42}}, Dependencies{
		API:       api,
		Runner:    runner,
		Files:     files,
		Workspace: workspace,
		State:     state,
		Executor:  executor,
		Reviewer:  reviewer,
	})
	require.NoError(t, err)
	return &gatewayFixture{
		gateway:   gateway,
		api:       api,
		runner:    runner,
		files:     files,
		executor:  executor,
		reviewer:  reviewer,
		workspace: workspace,
		state:     state,
	}
}

func (f *gatewayFixture) text(id int, text string) incoming {
	return incoming{UpdateID: id, Chat: authorizedChat, Text: text}
}

var errBoom = errors.New("boom")
