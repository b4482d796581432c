package telegraph

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/zulandar/blockyard/internal/identity"
	"github.com/zulandar/blockyard/internal/workflow"
)

// commandPrefixes start a command message ("!find 105-01", "/start").
const commandPrefixes = "!/"

// msgExpired answers a workflow button whose session is gone.
const msgExpired = "Сессия истекла. Начните заново."

// Router classifies inbound chat messages and routes them to the
// appropriate handler: the command handler for commands and card buttons,
// the workflow engine for everything that belongs to a session in progress.
type Router struct {
	engine     *workflow.Engine
	cmdHandler *CommandHandler
	adapter    Adapter
	botUserID  string // the bot's own user ID (to filter self-messages)
	out        io.Writer
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Engine     *workflow.Engine
	CmdHandler *CommandHandler
	Adapter    Adapter
	BotUserID  string    // bot's user ID for self-message filtering
	Out        io.Writer // defaults to os.Stdout
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("telegraph: router: workflow engine is required")
	}
	if opts.CmdHandler == nil {
		return nil, fmt.Errorf("telegraph: router: command handler is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("telegraph: router: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Router{
		engine:     opts.Engine,
		cmdHandler: opts.CmdHandler,
		adapter:    opts.Adapter,
		botUserID:  opts.BotUserID,
		out:        out,
	}, nil
}

// Handle classifies and routes a single inbound message. Routing paths:
//  1. Bot self-message → ignore
//  2. Menu or unit card button → command handler
//  3. Any other button → workflow session (or "expired")
//  4. Command ("!find 1", "@bot find 1", "блоки") → command handler
//  5. Text or file with an active session → workflow session
//  6. Everything else → ignore
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	// 1. Filter bot self-messages.
	if r.isSelfMessage(msg) {
		return
	}

	text := strings.TrimSpace(msg.Text)
	key := workflow.SessionKey(msg.Platform, msg.ChannelID, msg.UserID)
	fmt.Fprintf(r.out, "telegraph: router: recv [ch=%s user=%s choice=%s files=%d] %q\n",
		msg.ChannelID, msg.UserName, msg.Choice, len(msg.Files), truncate(text, 80))

	if msg.Choice != "" {
		// 2. Buttons owned by the command handler.
		if isCommandAction(msg.Choice) {
			fmt.Fprintf(r.out, "telegraph: router: → action %s\n", msg.Choice)
			r.respond(ctx, msg, key, r.cmdHandler.HandleAction(msg, msg.Choice))
			return
		}
		if msg.Choice == workflow.NoopToken {
			return
		}
		// 3. Workflow buttons.
		fmt.Fprintf(r.out, "telegraph: router: → session %s\n", key)
		r.feed(ctx, msg, key, true)
		return
	}

	// 4. Commands.
	active := r.engine.Active(key)
	if args := r.commandArgs(text, active); args != nil {
		fmt.Fprintf(r.out, "telegraph: router: → command %s\n", args[0])
		r.respond(ctx, msg, key, r.cmdHandler.Execute(msg, args))
		return
	}

	// 5. Session in progress.
	if active {
		fmt.Fprintf(r.out, "telegraph: router: → session %s\n", key)
		r.feed(ctx, msg, key, false)
		return
	}

	// 6. Unknown/unhandled message → ignore.
	fmt.Fprintf(r.out, "telegraph: router: → ignore (no command, no session)\n")
}

// feed hands msg to the workflow session for key.
func (r *Router) feed(ctx context.Context, msg InboundMessage, key string, button bool) {
	replies, err := r.engine.Handle(ctx, key, inputOf(msg))
	if err != nil {
		if errors.Is(err, workflow.ErrNoSession) {
			if button {
				r.send(ctx, msg, OutboundMessage{Text: msgExpired})
			}
			return
		}
		log.Printf("telegraph: router: handle %s: %v", key, err)
		return
	}
	r.sendReplies(ctx, msg, replies)
}

// respond sends a command response and applies its cancel or flow start.
func (r *Router) respond(ctx context.Context, msg InboundMessage, key string, resp Response) {
	for _, out := range resp.Replies {
		r.send(ctx, msg, out)
	}
	if resp.Cancel {
		text := "Нет активного процесса."
		if r.engine.Cancel(key) {
			text = workflow.MsgCancelled
		}
		r.send(ctx, msg, OutboundMessage{Text: text})
	}
	if resp.Flow != nil {
		replies, err := r.engine.Start(ctx, key, resp.Flow.Name, inputOf(msg), resp.Flow.Seed, resp.Flow.Step)
		if err != nil {
			log.Printf("telegraph: router: start %s: %v", resp.Flow.Name, err)
			r.send(ctx, msg, OutboundMessage{Text: workflow.MsgStateError})
			return
		}
		r.sendReplies(ctx, msg, replies)
	}
}

func (r *Router) sendReplies(ctx context.Context, msg InboundMessage, replies []workflow.Reply) {
	for _, rep := range replies {
		r.send(ctx, msg, outboundOf(rep))
	}
}

// send addresses out to the conversation msg came from.
func (r *Router) send(ctx context.Context, msg InboundMessage, out OutboundMessage) {
	out.ChannelID = msg.ChannelID
	out.ThreadID = msg.ThreadID
	if err := r.adapter.Send(ctx, out); err != nil {
		log.Printf("telegraph: router: send reply: %v", err)
	}
}

// identityOf describes the sender of msg.
func identityOf(msg InboundMessage) identity.Identity {
	return identity.Identity{
		Platform:   msg.Platform,
		ExternalID: msg.UserID,
		UserName:   msg.UserName,
		FirstName:  msg.FirstName,
		LastName:   msg.LastName,
	}
}

func inputOf(msg InboundMessage) workflow.Input {
	in := workflow.Input{
		Identity: identityOf(msg),
		Text:     strings.TrimSpace(msg.Text),
		Choice:   msg.Choice,
	}
	for _, f := range msg.Files {
		in.Files = append(in.Files, workflow.InputFile{ID: f.ID, Name: f.Name, ContentType: f.ContentType})
	}
	return in
}

func outboundOf(rep workflow.Reply) OutboundMessage {
	out := OutboundMessage{Text: rep.Text}
	for _, row := range rep.Choices {
		var cs []Choice
		for _, c := range row {
			cs = append(cs, Choice{Label: c.Label, Token: c.Token})
		}
		out.Choices = append(out.Choices, cs)
	}
	for _, f := range rep.Files {
		out.Files = append(out.Files, OutboundFile{Name: f.Name, ContentType: f.ContentType, Data: f.Data})
	}
	return out
}

// truncate returns s truncated to maxLen with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// isSelfMessage returns true if the message is from the bot itself.
func (r *Router) isSelfMessage(msg InboundMessage) bool {
	return r.botUserID != "" && msg.UserID == r.botUserID
}

// isCommandAction reports whether a button token belongs to the command handler.
func isCommandAction(token string) bool {
	return strings.HasPrefix(token, "blocks:") || strings.HasPrefix(token, "unit:")
}

// commandArgs returns the command name and arguments if text is a command,
// or nil. Accepted forms: a prefixed command ("!find 105"), a bot mention
// followed by a known command ("@bot find 105") and the menu words. While a
// session is active a prefixed word that is not a known command is session
// input ("/12" as a unit name), not a command.
func (r *Router) commandArgs(text string, inSession bool) []string {
	if text == "" {
		return nil
	}
	if w, ok := menuWords[strings.ToLower(text)]; ok {
		return []string{w}
	}
	if strings.ContainsRune(commandPrefixes, rune(text[0])) {
		args := strings.Fields(text[1:])
		if len(args) == 0 {
			return nil
		}
		args[0] = strings.ToLower(args[0])
		if inSession && !knownCommands[args[0]] {
			return nil
		}
		return args
	}
	if cmd := r.extractMentionCommand(text); cmd != "" {
		return strings.Fields(cmd)
	}
	return nil
}

// mentionRe matches Discord <@ID>/<@!ID>, Slack <@U123> and plain @name mentions.
var mentionRe = regexp.MustCompile(`<@!?[A-Za-z0-9]+>|^@\S+`)

// extractMentionCommand checks if the message is a bot @mention followed by
// a known command. Returns the command text (without the mention) if so,
// or empty string if not.
func (r *Router) extractMentionCommand(text string) string {
	if !mentionRe.MatchString(text) {
		return ""
	}
	stripped := strings.TrimSpace(mentionRe.ReplaceAllString(text, ""))
	if stripped == "" {
		return ""
	}

	// Check if the first word is a known command.
	fields := strings.Fields(stripped)
	first := strings.ToLower(fields[0])
	if !knownCommands[first] {
		return ""
	}
	fields[0] = first
	return strings.Join(fields, " ")
}
