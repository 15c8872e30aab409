package coordinator

import (
	"context"
	"fmt"
	"strings"

	"metered-assistant-go/internal/config"
)

const doUsage = "Usage: /do <your text>\n" +
	"Examples:\n" +
	"- /do I are student (for correction)\n" +
	"- /do Привет, как дела? (for translation)"

// Dispatch routes slash commands and sends everything else to Handle.
func (c *Coordinator) Dispatch(ctx context.Context, in Inbound) (*Reply, error) {
	text := strings.TrimSpace(in.Text)
	command, rest := splitCommand(text)

	switch command {
	case "/start":
		return c.greet(ctx, in)
	case "/help":
		for _, r := range c.cfg.Responses {
			if r.Name == "help" {
				return &Reply{Text: r.Text, Render: r.Render}, nil
			}
		}
		return &Reply{Text: usageHint, Render: config.RenderPlain}, nil
	case "/balance":
		return c.balance(ctx, in)
	case "/progress":
		return c.progress(ctx, in)
	case "/do":
		if rest == "" {
			return &Reply{Text: doUsage, Render: config.RenderPlain}, nil
		}
		in.Text = rest
		return c.Handle(ctx, in)
	}

	return c.Handle(ctx, in)
}

func (c *Coordinator) greet(ctx context.Context, in Inbound) (*Reply, error) {
	account, _, err := c.prepareAccount(ctx, in)
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("Welcome to **%s**, %s!\n\n"+
		"What I can do:\n"+
		"- Correct English grammar and spelling errors\n"+
		"- Translate text from any language to English\n"+
		"- Explain every error I find\n"+
		"- Track your learning progress\n\n"+
		"Commands:\n"+
		"- /start - show this message\n"+
		"- /do <text> - correct or translate text\n"+
		"- /balance - show your credits\n"+
		"- /progress - show your statistics\n\n"+
		"Or just send any text.",
		c.cfg.ProjectName, account.DisplayName())
	return &Reply{Text: text, Render: config.RenderMarkdown}, nil
}

func (c *Coordinator) balance(ctx context.Context, in Inbound) (*Reply, error) {
	account, _, err := c.prepareAccount(ctx, in)
	if err != nil {
		return nil, err
	}
	balance, err := c.deps.Ledger.Balance(ctx, account.Id)
	if err != nil {
		return nil, fail(StageIdle, KindInternal, err)
	}
	return &Reply{
		Text:   fmt.Sprintf("Your balance: %d credits. Each answer costs %d.", balance, c.cfg.UsageCost),
		Render: config.RenderPlain,
	}, nil
}

func (c *Coordinator) progress(ctx context.Context, in Inbound) (*Reply, error) {
	account, _, err := c.prepareAccount(ctx, in)
	if err != nil {
		return nil, err
	}
	p, err := c.deps.Conversations.GetProgress(ctx, account.Id)
	if err != nil {
		return nil, fail(StageIdle, KindInternal, err)
	}

	text := fmt.Sprintf("**Your progress**\n\n"+
		"Corrections: %d\n"+
		"Translations: %d\n"+
		"Errors found: %d\n"+
		"- grammar: %d\n"+
		"- spelling: %d\n"+
		"- vocabulary: %d\n"+
		"- style: %d",
		p.TotalCorrections, p.TotalTranslations, p.TotalErrors,
		p.GrammarErrors, p.SpellingErrors, p.VocabularyErrors, p.StyleErrors)
	return &Reply{Text: text, Render: config.RenderMarkdown}, nil
}

// IsLocal reports whether Dispatch answers text without reaching the
// provider. Unknown slash commands are not local.
func IsLocal(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return true
	}
	command, rest := splitCommand(text)
	switch command {
	case "/start", "/help", "/balance", "/progress":
		return true
	case "/do":
		return rest == ""
	}
	return false
}

// splitCommand returns ("/cmd", rest) for slash commands, ("", text) otherwise.
// A bot-style suffix such as /start@assistant is dropped.
func splitCommand(text string) (string, string) {
	if !strings.HasPrefix(text, "/") {
		return "", text
	}
	command, rest, _ := strings.Cut(text, " ")
	command, _, _ = strings.Cut(command, "@")
	return strings.ToLower(command), strings.TrimSpace(rest)
}
