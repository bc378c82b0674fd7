package telegram

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relay/internal/domain/run"
	"relay/internal/domain/transcript"
	"relay/internal/infra/projects"
)

const (
	callbackSetProject = "set_project:"
	callbackNewProject = "new_project_prompt"
	callbackFile       = "file:"
	maxCallbackData    = 64

	noProjectText = "No project context set. Please use `/set_project <project_name>` first."
	helpText      = "*Commands*\n" +
		"/p, /set_project `[name] [prompt]` select a project\n" +
		"/new\\_project `<name> [prompt]` create a project\n" +
		"/current\\_project show the selected project\n" +
		"/f, /file `[path]` show a project file\n" +
		"/e `[file] [params]` run a project script\n" +
		"/d download the project as a zip\n" +
		"/context review the requirements document\n" +
		"/k, /kill stop the running agent\n" +
		"/status show whether an agent is running\n" +
		"Any other message is sent to the agent as a prompt."
)

// handleText routes a text message: pending input first, then commands,
// then everything else as a prompt.
func (g *Gateway) handleText(ctx context.Context, chat run.ChatContext, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	if kind, ok := g.state.Awaiting(chat); ok {
		if _, _, err := g.state.ConsumeAwaiting(chat); err != nil {
			g.logger.Warn("Clear pending input for %s failed: %v", chat, err)
		}
		if !strings.HasPrefix(text, "/") {
			if kind == projects.AwaitingProjectName {
				g.createProject(ctx, chat, text, "")
			} else if file, ok := kind.ExecFile(); ok {
				g.executeWithParams(ctx, chat, file, text)
			}
			return
		}
		g.reply(ctx, chat, "Operation cancelled.")
	}

	command, args := parseCommand(text)
	switch command {
	case "/set_project", "/p":
		g.handleSetProject(ctx, chat, args)
	case "/new_project":
		if len(args) == 0 {
			g.reply(ctx, chat, "Usage: `/new_project <project_name> [initial_prompt]`")
			return
		}
		g.createProject(ctx, chat, args[0], strings.Join(args[1:], " "))
	case "/current_project":
		current := "None"
		if dir, ok := g.state.Project(chat); ok {
			current = dir
		}
		g.reply(ctx, chat, fmt.Sprintf("Current project is: `%s`", current))
	case "/file", "/f":
		g.handleFile(ctx, chat, strings.Join(args, " "))
	case "/e":
		g.handleExec(ctx, chat, commandRest(text))
	case "/d":
		g.handleDownload(ctx, chat)
	case "/context":
		g.handleContext(ctx, chat)
	case "/kill", "/k":
		g.handleKill(ctx, chat)
	case "/status":
		g.handleStatus(ctx, chat)
	case "/start", "/help":
		g.reply(ctx, chat, helpText)
	default:
		g.handlePrompt(ctx, chat, text)
	}
}

// parseCommand splits "/cmd@bot a b" into "/cmd" and its arguments. Text
// that is not a command yields an empty command.
func parseCommand(text string) (string, []string) {
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	command, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(command), fields[1:]
}

// commandRest returns the raw text after the command word.
func commandRest(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), fields[0]))
}

func (g *Gateway) handlePrompt(ctx context.Context, chat run.ChatContext, prompt string) {
	dir, ok := g.state.Project(chat)
	if !ok {
		g.reply(ctx, chat, noProjectText)
		return
	}
	err := g.runner.SubmitPrompt(ctx, chat, prompt, dir)
	switch {
	case err == nil:
		g.remindToReview(ctx, chat, dir)
	case errors.Is(err, run.ErrRunInProgress):
		g.reply(ctx, chat, "An agent is already running in this chat. Wait for it to finish or use /kill.")
	default:
		g.logger.Error("Submit prompt for %s failed: %v", chat, err)
		g.reply(ctx, chat, fmt.Sprintf("Could not start the agent: %v", err))
	}
}

func (g *Gateway) handleSetProject(ctx context.Context, chat run.ChatContext, args []string) {
	if len(args) > 0 {
		msg, ok := g.selectProject(ctx, chat, args[0])
		g.reply(ctx, chat, msg)
		if ok && len(args) > 1 {
			g.handlePrompt(ctx, chat, strings.Join(args[1:], " "))
		}
		return
	}

	names, err := g.workspace.List()
	if err != nil {
		g.logger.Error("List projects failed: %v", err)
		g.reply(ctx, chat, "An error occurred while listing projects.")
		return
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, name := range names {
		if button, ok := dataButton("📂 "+name, callbackSetProject+name); ok {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(button))
		}
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData("➕ New Project", callbackNewProject)))
	text := "Select a project:"
	if len(names) == 0 {
		text = "No projects found. Create one:"
	}
	if _, err := g.messenger.SendKeyboard(ctx, chat, text, tgbotapi.NewInlineKeyboardMarkup(rows...)); err != nil {
		g.logger.Warn("Send project list to %s failed: %v", chat, err)
	}
}

// selectProject makes name the chat's project and returns the notice.
func (g *Gateway) selectProject(ctx context.Context, chat run.ChatContext, name string) (string, bool) {
	dir, err := g.workspace.Open(name)
	switch {
	case errors.Is(err, projects.ErrProjectNotFound):
		return fmt.Sprintf("Error: Project `%s` not found in `%s`.", name, g.workspace.Root()), false
	case err != nil:
		return fmt.Sprintf("Error: %v", err), false
	}
	if err := g.state.SetProject(chat, dir); err != nil {
		g.logger.Error("Save project for %s failed: %v", chat, err)
		return "Error: could not save the project selection.", false
	}
	g.watch(ctx, chat, dir)
	g.logger.Info("Project for %s set to %s", chat, dir)
	return fmt.Sprintf("Project context set to: `%s`", dir), true
}

func (g *Gateway) createProject(ctx context.Context, chat run.ChatContext, name, prompt string) {
	name = strings.TrimSpace(name)
	dir, err := g.workspace.Create(name)
	switch {
	case errors.Is(err, projects.ErrProjectExists):
		g.reply(ctx, chat, fmt.Sprintf("Error: Project `%s` already exists in `%s`.", name, g.workspace.Root()))
		return
	case errors.Is(err, projects.ErrInvalidProjectName):
		g.reply(ctx, chat, "Invalid project name. Operation cancelled.")
		return
	case err != nil:
		g.logger.Error("Create project %s failed: %v", name, err)
		g.reply(ctx, chat, "Error: Could not create project directory. Check server permissions.")
		return
	}
	if err := g.state.SetProject(chat, dir); err != nil {
		g.logger.Error("Save project for %s failed: %v", chat, err)
	}
	g.watch(ctx, chat, dir)
	g.reply(ctx, chat, fmt.Sprintf("Project `%s` created and context set to: `%s`", name, dir))
	if prompt != "" {
		g.handlePrompt(ctx, chat, prompt)
	}
}

func (g *Gateway) handleFile(ctx context.Context, chat run.ChatContext, name string) {
	dir, ok := g.state.Project(chat)
	if !ok {
		g.reply(ctx, chat, noProjectText)
		return
	}
	if name != "" {
		g.sendProjectFile(ctx, chat, dir, name)
		return
	}

	g.sendFileKeyboard(ctx, chat, dir, "Select a file to view:", callbackFile)
}

// sendFileKeyboard offers one button per project file, each carrying
// prefix plus the file name.
func (g *Gateway) sendFileKeyboard(ctx context.Context, chat run.ChatContext, dir, text, prefix string) {
	files, err := g.workspace.Files(dir)
	if err != nil {
		g.logger.Error("List files of %s failed: %v", dir, err)
		g.reply(ctx, chat, "An error occurred while listing files.")
		return
	}
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, file := range files {
		if button, ok := dataButton(fileIcon(file)+" "+file, prefix+file); ok {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(button))
		}
	}
	if len(rows) == 0 {
		g.reply(ctx, chat, "No files found in the current project.")
		return
	}
	if _, err := g.messenger.SendKeyboard(ctx, chat, text, tgbotapi.NewInlineKeyboardMarkup(rows...)); err != nil {
		g.logger.Warn("Send file list to %s failed: %v", chat, err)
	}
}

func (g *Gateway) sendProjectFile(ctx context.Context, chat run.ChatContext, dir, name string) {
	path, err := g.workspace.FilePath(dir, name)
	if err != nil {
		g.reply(ctx, chat, fmt.Sprintf("Error: File `%s` not found.", name))
		return
	}
	if err := g.files.Deliver(ctx, chat, path); err != nil {
		g.logger.Warn("Deliver %s to %s failed: %v", path, chat, err)
	}
}

func (g *Gateway) handleKill(ctx context.Context, chat run.ChatContext) {
	err := g.runner.Terminate(chat)
	switch {
	case errors.Is(err, run.ErrNoRunningAgent):
		g.reply(ctx, chat, "No agent is running in this chat.")
	case err != nil:
		g.logger.Error("Terminate agent for %s failed: %v", chat, err)
		g.reply(ctx, chat, fmt.Sprintf("Error stopping the agent: %v", err))
	default:
		g.reply(ctx, chat, "Stopping the running agent...")
	}
}

func (g *Gateway) handleStatus(ctx context.Context, chat run.ChatContext) {
	project := "none"
	if dir, ok := g.state.Project(chat); ok {
		project = filepath.Base(dir)
	}
	if g.runner.IsRunning(chat) {
		g.reply(ctx, chat, fmt.Sprintf("An agent is running in project `%s`.", project))
		return
	}
	g.reply(ctx, chat, fmt.Sprintf("No agent is running. Current project: `%s`.", project))
}

func (g *Gateway) handleCallback(ctx context.Context, chat run.ChatContext, cb callbackQuery) {
	defer func() {
		if err := g.messenger.AnswerCallback(ctx, cb.ID); err != nil {
			g.logger.Debug("Answer callback %s failed: %v", cb.ID, err)
		}
	}()
	messageID := strconv.Itoa(cb.MessageID)

	switch {
	case strings.HasPrefix(cb.Data, callbackExec), strings.HasPrefix(cb.Data, callbackExecParams), strings.HasPrefix(cb.Data, callbackExecBare):
		g.handleExecCallback(ctx, chat, messageID, cb.Data)
	case strings.HasPrefix(cb.Data, callbackFile):
		dir, ok := g.state.Project(chat)
		if !ok {
			g.reply(ctx, chat, "Error: Project context not found.")
			return
		}
		g.sendProjectFile(ctx, chat, dir, strings.TrimPrefix(cb.Data, callbackFile))
	case strings.HasPrefix(cb.Data, callbackSetProject):
		msg, _ := g.selectProject(ctx, chat, strings.TrimPrefix(cb.Data, callbackSetProject))
		g.editOrReply(ctx, chat, messageID, msg)
	case cb.Data == callbackNewProject:
		if err := g.state.SetAwaiting(chat, projects.AwaitingProjectName); err != nil {
			g.logger.Error("Save pending input for %s failed: %v", chat, err)
		}
		g.editOrReply(ctx, chat, messageID, "Please enter the name for the new project:")
	default:
		g.logger.Warn("Unknown callback data %q from %s", cb.Data, chat)
	}
}

// editOrReply replaces the keyboard message with text, sending a new
// message when the edit fails.
func (g *Gateway) editOrReply(ctx context.Context, chat run.ChatContext, messageID, text string) {
	err := g.messenger.EditMessage(ctx, chat, messageID, transcript.ToTelegramMarkdown(text), run.FormatMarkdown)
	if errors.Is(err, run.ErrRichTextRejected) {
		err = g.messenger.EditMessage(ctx, chat, messageID, text, run.FormatPlain)
	}
	if err == nil || errors.Is(err, run.ErrMessageNotModified) {
		return
	}
	g.logger.Warn("Edit keyboard message %s for %s failed: %v", messageID, chat, err)
	g.reply(ctx, chat, text)
}

// dataButton builds a callback button, refusing data the Bot API would
// reject.
func dataButton(label, data string) (tgbotapi.InlineKeyboardButton, bool) {
	if len(data) > maxCallbackData {
		return tgbotapi.InlineKeyboardButton{}, false
	}
	return tgbotapi.NewInlineKeyboardButtonData(label, data), true
}

func fileIcon(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".py":
		return "🐍"
	case ".md":
		return "⭐"
	case ".log", ".sh":
		return "📜"
	case ".txt":
		return "📝"
	case ".bat", ".cmd", ".exe":
		return "🔴"
	case ".json":
		return "🧩"
	case ".env":
		return "🔑"
	default:
		return "📄"
	}
}
