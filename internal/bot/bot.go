package bot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/cookieclicker123/tanooki-copilot/internal/errs"
	"github.com/cookieclicker123/tanooki-copilot/internal/models"
	"github.com/cookieclicker123/tanooki-copilot/internal/storage"
	"github.com/cookieclicker123/tanooki-copilot/internal/workflow"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	historyLimit   = 5
	historySnippet = 200
	// Telegram rejects messages longer than 4096 characters
	maxMessageLength = 4000
)

type Bot struct {
	api            *tgbotapi.BotAPI
	workflow       *workflow.Workflow
	catalogs       storage.CatalogStore
	defaultProject string
	logger         *zap.Logger

	mu       sync.RWMutex
	projects map[int64]string
}

func New(token string, wf *workflow.Workflow, catalogs storage.CatalogStore, defaultProject string, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return NewWithAPI(api, wf, catalogs, defaultProject, logger), nil
}

// NewWithAPI wraps an already authenticated client
func NewWithAPI(api *tgbotapi.BotAPI, wf *workflow.Workflow, catalogs storage.CatalogStore, defaultProject string, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		api:            api,
		workflow:       wf,
		catalogs:       catalogs,
		defaultProject: defaultProject,
		logger:         logger,
		projects:       make(map[int64]string),
	}
}

// Start polls for updates until ctx is done. Each message is handled in its own goroutine.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Bot started", zap.String("username", b.api.Self.UserName))

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil {
				continue
			}
			wg.Add(1)
			go func(message *tgbotapi.Message) {
				defer wg.Done()
				b.handleMessage(ctx, message)
			}(update.Message)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	if _, err := b.api.Request(tgbotapi.NewChatAction(message.Chat.ID, tgbotapi.ChatTyping)); err != nil {
		b.logger.Debug("Failed to send chat action", zap.Error(err))
	}

	q := models.Query{Text: content, ProjectID: b.project(message.Chat.ID)}
	result, err := b.workflow.Run(ctx, q, nil)
	if err != nil {
		b.logger.Error("Failed to run query",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't process your question. Please try again.")
		return
	}

	b.sendMarkdown(message.Chat.ID, message.MessageID, formatResult(result))
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "agents":
		b.sendMarkdown(message.Chat.ID, 0, formatAgents())
	case "project":
		b.handleProject(ctx, message)
	case "history":
		b.handleHistory(ctx, message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Welcome to Tanooki Copilot! 🎬
Ask me anything about post-production, the Tanooki app or your project's footage.

For example: "Find me all the clips where John is at the Beach."
Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/agents - Show the query categories I understand
/project [id] - Show or switch the project used to look up contributors and locations
/history - Show your recent questions

Any other message is answered as a question.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) project(chatID int64) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if p, ok := b.projects[chatID]; ok {
		return p
	}
	return b.defaultProject
}

func (b *Bot) handleProject(ctx context.Context, message *tgbotapi.Message) {
	projectID := strings.TrimSpace(message.CommandArguments())
	if projectID == "" {
		current := b.project(message.Chat.ID)
		if current == "" {
			b.sendMessage(message.Chat.ID, "No project selected. Use /project <id> to pick one.")
			return
		}
		b.sendMessage(message.Chat.ID, "Current project: "+current)
		return
	}

	if b.catalogs != nil {
		if _, err := b.catalogs.AvailableEntities(ctx, projectID); err != nil {
			if errors.Is(err, errs.ErrCatalogNotFound) {
				b.sendMessage(message.Chat.ID, fmt.Sprintf("I don't know a project called %q.", projectID))
				return
			}
			b.logger.Error("Failed to look up project",
				zap.Error(err),
				zap.String("project_id", projectID))
			b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't check that project right now.")
			return
		}
	}

	b.mu.Lock()
	b.projects[message.Chat.ID] = projectID
	b.mu.Unlock()

	b.logger.Info("Project selected",
		zap.Int64("chat_id", message.Chat.ID),
		zap.String("project_id", projectID))
	b.sendMessage(message.Chat.ID, "Switched to project "+projectID)
}

func (b *Bot) handleHistory(ctx context.Context, message *tgbotapi.Message) {
	results, err := b.workflow.Recent(ctx, b.project(message.Chat.ID), historyLimit)
	if err != nil {
		b.logger.Error("Failed to get query history",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't retrieve your question history.")
		return
	}

	if len(results) == 0 {
		b.sendMessage(message.Chat.ID, "You haven't asked anything yet.")
		return
	}
	b.sendMarkdown(message.Chat.ID, 0, formatHistory(results))
}

func formatAgents() string {
	var sb strings.Builder
	sb.WriteString("*Query categories:*\n")
	for _, agent := range models.AllAgentTypes() {
		fmt.Fprintf(&sb, "%s \\- %s\n", escapeMarkdown(hashtag(agent.String())), escapeMarkdown(agent.Description()))
	}
	return sb.String()
}

func hashtag(s string) string {
	return "#" + strings.ReplaceAll(s, " ", "_")
}

// formatResult renders a workflow result as a MarkdownV2 reply
func formatResult(result *models.WorkflowResult) string {
	var sb strings.Builder

	if result.Intent != nil && len(result.Intent.Agents) > 0 {
		tags := make([]string, len(result.Intent.Agents))
		for i, agent := range result.Intent.Agents {
			tags[i] = escapeMarkdown(hashtag(agent.String()))
		}
		fmt.Fprintf(&sb, "*Category:* %s\n", strings.Join(tags, " "))
	}

	if result.Entities != nil && !result.Entities.Empty() {
		titles := map[string]string{
			models.CategoryContributors: "Contributors",
			models.CategoryLocations:    "Locations",
			models.CategoryClipTypes:    "Clip types",
		}
		for _, category := range models.Categories() {
			values := distinct(result.Entities.Entities[category])
			if len(values) == 0 {
				continue
			}
			fmt.Fprintf(&sb, "*%s:* %s\n", titles[category], escapeMarkdown(strings.Join(values, ", ")))
		}
	}

	if sb.Len() > 0 {
		sb.WriteString("\n")
	}

	answer := result.Answer()
	switch {
	case result.Response == nil:
		sb.WriteString(escapeMarkdown("I can't help with that question."))
	case result.Response.Failed():
		sb.WriteString(escapeMarkdown("⚠️ The answer service is unavailable right now. Please try again later."))
	default:
		// escaping can double the length
		sb.WriteString(escapeMarkdown(truncate(answer, (maxMessageLength-sb.Len())/2)))
	}
	return sb.String()
}

// formatHistory renders recent results newest first, dropping the oldest
// entries that would push the reply past maxMessageLength
func formatHistory(results []*models.WorkflowResult) string {
	var sb strings.Builder
	sb.WriteString("*Your recent questions:*\n\n")
	for _, r := range results {
		var entry strings.Builder
		fmt.Fprintf(&entry, "_%s_\n", escapeMarkdown(truncate(r.Query, historySnippet)))
		if r.Intent != nil && len(r.Intent.Agents) > 0 {
			tags := make([]string, len(r.Intent.Agents))
			for i, agent := range r.Intent.Agents {
				tags[i] = escapeMarkdown(hashtag(agent.String()))
			}
			fmt.Fprintf(&entry, "%s\n", strings.Join(tags, " "))
		}
		if answer := r.Answer(); answer != "" {
			fmt.Fprintf(&entry, "%s\n", escapeMarkdown(truncate(answer, historySnippet)))
		}
		entry.WriteString("\n")

		if len([]rune(sb.String()))+len([]rune(entry.String())) > maxMessageLength {
			break
		}
		sb.WriteString(entry.String())
	}
	return sb.String()
}

func distinct(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis
func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}

// escapeMarkdown escapes the characters reserved by MarkdownV2
func escapeMarkdown(text string) string {
	specialChars := []string{"\\", "_", "*", "[", "]", "(", ")", "~", "`", ">", "#", "+", "-", "=", "|", "{", "}", ".", "!"}
	escaped := text
	for _, char := range specialChars {
		escaped = strings.ReplaceAll(escaped, char, "\\"+char)
	}
	return escaped
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendMarkdown(chatID int64, replyToID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.ReplyToMessageID = replyToID

	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send response",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.api.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
