package telegram

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relay/internal/app/workbench"
	"relay/internal/domain/run"
	"relay/internal/domain/transcript"
	"relay/internal/infra/projects"
)

const (
	callbackExec       = "exec:"
	callbackExecParams = "exec_yes:"
	callbackExecBare   = "exec_no:"

	// maxUploadBytes is the Bot API download ceiling.
	maxUploadBytes = 20 << 20

	reviewOptionsText = "What would you like to do?\n\n" +
		"1. **Accept**: overwrite the file with this proposal.\n" +
		"2. **Suggest edits**: reply with your changes.\n" +
		"3. **Decline**: cancel the operation.\n" +
		"4. **Upload file**: send your own `%s` to use."
	reviewAgainText = "You can now Accept (1), Decline (3), suggest more edits, or upload a file."
)

func (g *Gateway) handleExec(ctx context.Context, chat run.ChatContext, rest string) {
	dir, ok := g.state.Project(chat)
	if !ok {
		g.reply(ctx, chat, noProjectText)
		return
	}
	if g.executor == nil {
		g.reply(ctx, chat, "File execution is not enabled.")
		return
	}
	if rest == "" {
		g.sendFileKeyboard(ctx, chat, dir, "Select a file to view and execute:", callbackExec)
		return
	}
	words, err := shlex.Split(rest)
	if err != nil {
		g.reply(ctx, chat, fmt.Sprintf("Could not parse `%s`: %v", rest, err))
		return
	}
	if len(words) == 0 {
		g.reply(ctx, chat, "Usage: `/e <file> [params]`")
		return
	}
	g.execute(ctx, chat, dir, words[0], words[1:])
}

func (g *Gateway) handleExecCallback(ctx context.Context, chat run.ChatContext, messageID, data string) {
	dir, ok := g.state.Project(chat)
	if !ok {
		g.reply(ctx, chat, "Error: Project context not found.")
		return
	}
	switch {
	case strings.HasPrefix(data, callbackExecParams):
		name := strings.TrimPrefix(data, callbackExecParams)
		if err := g.state.SetAwaiting(chat, projects.AwaitingExecParams(name)); err != nil {
			g.logger.Error("Save pending input for %s failed: %v", chat, err)
		}
		g.editOrReply(ctx, chat, messageID, fmt.Sprintf("Please enter the parameters for `%s`:", name))
	case strings.HasPrefix(data, callbackExecBare):
		name := strings.TrimPrefix(data, callbackExecBare)
		g.editOrReply(ctx, chat, messageID, fmt.Sprintf("Executing `%s` without parameters...", name))
		g.execute(ctx, chat, dir, name, nil)
	default:
		name := strings.TrimPrefix(data, callbackExec)
		g.editOrReply(ctx, chat, messageID, fmt.Sprintf("Selected file: `%s`", name))
		if _, err := g.workspace.FilePath(dir, name); err != nil {
			g.reply(ctx, chat, fmt.Sprintf("Error: File `%s` no longer exists.", name))
			return
		}
		g.sendProjectFile(ctx, chat, dir, name)
		yes, okYes := dataButton("✅ Yes", callbackExecParams+name)
		no, okNo := dataButton("❌ No", callbackExecBare+name)
		if !okYes || !okNo {
			g.reply(ctx, chat, fmt.Sprintf("Use `/e %s [params]` to run this file.", name))
			return
		}
		markup := tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(yes, no))
		if _, err := g.messenger.SendKeyboard(ctx, chat, "Would you like to pass parameters?", markup); err != nil {
			g.logger.Warn("Send parameter prompt to %s failed: %v", chat, err)
		}
	}
}

func (g *Gateway) executeWithParams(ctx context.Context, chat run.ChatContext, name, text string) {
	dir, ok := g.state.Project(chat)
	if !ok {
		g.reply(ctx, chat, "Error: Project context not found.")
		return
	}
	params, err := shlex.Split(text)
	if err != nil {
		g.reply(ctx, chat, fmt.Sprintf("Could not parse the parameters: %v", err))
		return
	}
	g.execute(ctx, chat, dir, name, params)
}

// execute announces the command line and runs it off the poll loop.
func (g *Gateway) execute(ctx context.Context, chat run.ChatContext, dir, name string, params []string) {
	if g.executor == nil {
		g.reply(ctx, chat, "File execution is not enabled.")
		return
	}
	path, err := g.workspace.FilePath(dir, name)
	if err != nil {
		g.reply(ctx, chat, fmt.Sprintf("Error: File `%s` not found.", name))
		return
	}
	cmd, err := g.executor.Command(path, params)
	if errors.Is(err, workbench.ErrUnsupportedFile) {
		g.reply(ctx, chat, fmt.Sprintf("Error: Unsupported file type for execution: `%s`", name))
		return
	}
	if err != nil {
		g.reply(ctx, chat, fmt.Sprintf("Error: %v", err))
		return
	}
	g.reply(ctx, chat, fmt.Sprintf("Executing: `%s`", strings.Join(append([]string{cmd.Path}, cmd.Args...), " ")))

	g.background("telegram.exec", func() {
		result, err := g.executor.Run(ctx, dir, path, params)
		if err != nil {
			g.logger.Error("Execute %s for %s failed: %v", path, chat, err)
			g.reply(ctx, chat, fmt.Sprintf("An error occurred while executing `%s`: %v", name, err))
			return
		}
		g.reply(ctx, chat, result.Report())
	})
}

func (g *Gateway) handleDownload(ctx context.Context, chat run.ChatContext) {
	dir, ok := g.state.Project(chat)
	if !ok {
		g.reply(ctx, chat, noProjectText)
		return
	}
	name := filepath.Base(dir)
	g.reply(ctx, chat, fmt.Sprintf("Compressing `%s`...", name))

	g.background("telegram.archive", func() {
		path, cleanup, err := g.workspace.Archive(dir)
		if err != nil {
			g.logger.Error("Archive %s failed: %v", dir, err)
			g.reply(ctx, chat, fmt.Sprintf("An error occurred while creating the project archive: %v", err))
			return
		}
		defer cleanup()
		if err := g.messenger.SendFile(ctx, chat, path); err != nil {
			g.logger.Warn("Send archive %s to %s failed: %v", path, chat, err)
			g.reply(ctx, chat, fmt.Sprintf("An error occurred while sending `%s.zip`.", name))
		}
	})
}

func (g *Gateway) handleContext(ctx context.Context, chat run.ChatContext) {
	dir, ok := g.state.Project(chat)
	if !ok {
		g.reply(ctx, chat, noProjectText)
		return
	}
	if g.reviewer == nil {
		g.reply(ctx, chat, "Requirements review is not enabled.")
		return
	}
	name := g.workspace.RequirementsFile()
	path := g.workspace.RequirementsPath(dir)
	current, err := os.ReadFile(path)
	if err != nil {
		g.reply(ctx, chat, fmt.Sprintf("Error: `%s` not found in the current project.", name))
		return
	}

	g.reply(ctx, chat, fmt.Sprintf("Here is the current `%s` for your reference:", name))
	if err := g.messenger.SendFile(ctx, chat, path); err != nil {
		g.logger.Warn("Send %s to %s failed: %v", path, chat, err)
	}
	g.reply(ctx, chat, "Preparing a refined version...")

	g.background("telegram.review", func() {
		proposal, err := g.reviewer.Propose(ctx, dir, transcript.DecodeText(current))
		g.presentProposal(ctx, chat, proposal, err, true)
	})
}

// presentProposal stores proposal as the chat's draft and shows it.
func (g *Gateway) presentProposal(ctx context.Context, chat run.ChatContext, proposal string, err error, first bool) {
	if err != nil {
		g.logger.Warn("Requirements review for %s failed: %v", chat, err)
		g.reply(ctx, chat, fmt.Sprintf("Error generating refined context: %v", err))
		return
	}
	if err := g.state.SetReview(chat, proposal); err != nil {
		g.logger.Error("Save review draft for %s failed: %v", chat, err)
		g.reply(ctx, chat, "Error: could not save the proposal.")
		return
	}

	name := g.workspace.RequirementsFile()
	title := "Proposed Update"
	if !first {
		title = "New Proposed Update"
	}
	g.reply(ctx, chat, fmt.Sprintf("**Agent's %s:** `%s`", title, name))
	for _, msg := range transcript.FileMessages("proposal.txt", []byte(proposal), g.cfg.MaxMessageSize) {
		if _, err := g.messenger.SendMessage(ctx, chat, msg.Text, run.FormatHTML); err != nil {
			g.logger.Warn("Send proposal to %s failed: %v", chat, err)
			break
		}
	}
	if first {
		g.reply(ctx, chat, fmt.Sprintf(reviewOptionsText, name))
		return
	}
	g.reply(ctx, chat, reviewAgainText)
}

// handleReviewReply consumes update when the chat is deciding on a
// requirements draft. A command ends the review and is then handled as
// usual.
func (g *Gateway) handleReviewReply(ctx context.Context, update incoming) bool {
	chat := update.Chat
	draft, ok := g.state.Review(chat)
	if !ok {
		return false
	}
	dir, ok := g.state.Project(chat)
	if !ok {
		g.clearReview(chat)
		return false
	}
	name := g.workspace.RequirementsFile()

	if doc := update.Document; doc != nil {
		if !strings.EqualFold(doc.FileName, name) {
			g.reply(ctx, chat, fmt.Sprintf("File ignored. Please upload a file named `%s` to proceed.", name))
			return true
		}
		g.acceptUpload(ctx, chat, dir, *doc)
		return true
	}

	text := strings.TrimSpace(update.Text)
	if text == "" {
		return false
	}
	if strings.HasPrefix(text, "/") {
		g.clearReview(chat)
		g.reply(ctx, chat, "Requirements review cancelled. No changes have been made.")
		return false
	}
	switch strings.ToLower(text) {
	case "1", "accept":
		if err := g.workspace.ReplaceRequirements(dir, []byte(draft.ProposedText)); err != nil {
			g.logger.Error("Write requirements for %s failed: %v", chat, err)
			g.reply(ctx, chat, fmt.Sprintf("Error: could not write `%s`.", name))
			return true
		}
		g.clearReview(chat)
		g.reply(ctx, chat, fmt.Sprintf("Project context (`%s`) has been successfully updated.", name))
	case "3", "decline":
		g.clearReview(chat)
		g.reply(ctx, chat, "Operation cancelled. No changes have been made.")
	default:
		if g.reviewer == nil {
			g.reply(ctx, chat, "Requirements review is not enabled.")
			return true
		}
		g.reply(ctx, chat, "Incorporating your edits and generating a new proposal...")
		g.background("telegram.review", func() {
			proposal, err := g.reviewer.Revise(ctx, dir, draft.ProposedText, text)
			g.presentProposal(ctx, chat, proposal, err, false)
		})
	}
	return true
}

func (g *Gateway) acceptUpload(ctx context.Context, chat run.ChatContext, dir string, doc document) {
	name := g.workspace.RequirementsFile()
	if doc.FileSize > maxUploadBytes {
		g.reply(ctx, chat, fmt.Sprintf("Error: `%s` is too large to download.", name))
		return
	}
	data, err := g.messenger.Download(ctx, doc.FileID, maxUploadBytes)
	if err != nil {
		g.logger.Warn("Download %s for %s failed: %v", doc.FileName, chat, err)
		g.reply(ctx, chat, fmt.Sprintf("Error: could not download `%s`: %v", name, err))
		return
	}
	if err := g.workspace.ReplaceRequirements(dir, data); err != nil {
		g.logger.Error("Write uploaded requirements for %s failed: %v", chat, err)
		g.reply(ctx, chat, fmt.Sprintf("Error: could not write `%s`.", name))
		return
	}
	g.clearReview(chat)
	g.reply(ctx, chat, fmt.Sprintf("Successfully updated `%s` with your uploaded file.", name))
}

func (g *Gateway) clearReview(chat run.ChatContext) {
	if err := g.state.ClearReview(chat); err != nil {
		g.logger.Warn("Clear review for %s failed: %v", chat, err)
	}
}

// remindToReview suggests /context after every ReminderEvery-th accepted
// prompt to the project.
func (g *Gateway) remindToReview(ctx context.Context, chat run.ChatContext, dir string) {
	if g.cfg.ReminderEvery <= 0 {
		return
	}
	count, err := g.state.CountPrompt(dir)
	if err != nil {
		g.logger.Warn("Count prompt for %s failed: %v", dir, err)
	}
	if count == 0 || count%g.cfg.ReminderEvery != 0 {
		return
	}
	g.reply(ctx, chat, fmt.Sprintf("You've sent %d requests for this project. To keep the requirements concise, "+
		"you may want to refine the context soon using the `/context` command.", count))
}
