package telegraph

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/blockyard/internal/export"
	"github.com/zulandar/blockyard/internal/identity"
	"github.com/zulandar/blockyard/internal/printing"
	"github.com/zulandar/blockyard/internal/unit"
	"github.com/zulandar/blockyard/internal/workflow"
	"gorm.io/gorm"
)

// now is swapped in tests.
var now = time.Now

// FlowStart asks the router to start a workflow.
type FlowStart struct {
	Name string
	Step string         // first step; empty for the flow default
	Seed map[string]any // initial session data
}

// Response is what a command or button action produced. Replies are sent in
// order; Flow (if set) is started afterwards and Cancel abandons the session.
type Response struct {
	Replies []OutboundMessage
	Flow    *FlowStart
	Cancel  bool
}

func reply(text string) Response {
	return Response{Replies: []OutboundMessage{{Text: text}}}
}

// CommandHandler processes chat commands ("!find 105-01") and the buttons
// that are not owned by a workflow (menus and unit cards).
type CommandHandler struct {
	db            *gorm.DB
	isAdmin       func(externalID string) bool
	requireActive bool
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	DB            *gorm.DB
	IsAdmin       func(externalID string) bool
	RequireActive bool
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("telegraph: command handler: db is required")
	}
	isAdmin := opts.IsAdmin
	if isAdmin == nil {
		isAdmin = func(string) bool { return false }
	}
	return &CommandHandler{
		db:            opts.DB,
		isAdmin:       isAdmin,
		requireActive: opts.RequireActive,
	}, nil
}

// knownCommands is the set of top-level commands Execute supports.
var knownCommands = map[string]bool{
	"start":       true,
	"blocks":      true,
	"help":        true,
	"cancel":      true,
	"find":        true,
	"history":     true,
	"export":      true,
	"receive":     true,
	"issue":       true,
	"repair":      true,
	"print":       true,
	"printers":    true,
	"add_printer": true,
	"maint":       true,
	"register":    true,
	"approve":     true,
}

// menuWords are plain-text messages treated as commands.
var menuWords = map[string]string{
	"блоки":  "blocks",
	"отмена": "cancel",
}

// Execute runs a command. args[0] is the command name without prefix.
func (ch *CommandHandler) Execute(msg InboundMessage, args []string) Response {
	if len(args) == 0 {
		return reply(ch.helpText())
	}

	switch args[0] {
	case "start":
		return Response{Replies: []OutboundMessage{{
			Text:    "Здравствуйте! Я веду учёт ремонтных блоков на складе.\nВыберите действие:",
			Choices: blocksMenu(),
		}}}
	case "blocks":
		return Response{Replies: []OutboundMessage{{Text: "Блоки:", Choices: blocksMenu()}}}
	case "help":
		return reply(ch.helpText())
	case "cancel":
		return Response{Cancel: true}
	case "find":
		return ch.cmdFind(args[1:])
	case "history":
		return ch.cmdHistory(args[1:])
	case "export":
		if len(args) < 2 {
			return exportMenu()
		}
		return ch.cmdExport(args[1])
	case "receive":
		return Response{Flow: &FlowStart{Name: workflow.FlowReceive}}
	case "issue":
		return Response{Flow: &FlowStart{Name: workflow.FlowIssue}}
	case "repair":
		return Response{Flow: &FlowStart{Name: workflow.FlowRepair}}
	case "print":
		return Response{Flow: &FlowStart{Name: workflow.FlowPrint}}
	case "register":
		return Response{Flow: &FlowStart{Name: workflow.FlowRegister}}
	case "printers":
		return ch.cmdPrinters()
	case "add_printer":
		return ch.cmdAddPrinter(msg, args[1:])
	case "maint":
		return ch.cmdMaint(msg, args[1:])
	case "approve":
		return ch.cmdApprove(msg, args[1:])
	default:
		return reply(fmt.Sprintf("Неизвестная команда: `%s`\n\n%s", args[0], ch.helpText()))
	}
}

// HandleAction runs a menu or unit card button.
func (ch *CommandHandler) HandleAction(msg InboundMessage, token string) Response {
	parts := strings.Split(token, ":")
	if len(parts) < 2 {
		return reply(workflow.MsgStateError)
	}

	switch parts[0] {
	case "blocks":
		switch parts[1] {
		case "menu":
			return Response{Replies: []OutboundMessage{{Text: "Блоки:", Choices: blocksMenu()}}}
		case "receive":
			return Response{Flow: &FlowStart{Name: workflow.FlowReceive}}
		case "issue":
			return Response{Flow: &FlowStart{Name: workflow.FlowIssue}}
		case "repair":
			return Response{Flow: &FlowStart{Name: workflow.FlowRepair}}
		case "export":
			if len(parts) == 3 {
				return ch.cmdExport(parts[2])
			}
			return exportMenu()
		}
	case "unit":
		return ch.unitAction(msg, parts[1:])
	}
	return reply(workflow.MsgStateError)
}

// unitAction handles "unit:<action>:<id>[:<arg>]" tokens from unit cards.
func (ch *CommandHandler) unitAction(msg InboundMessage, parts []string) Response {
	action := parts[0]
	rest := parts[1:]
	if action == "machine" {
		if len(rest) < 2 {
			return reply(workflow.MsgStateError)
		}
		action, rest = "machine:"+rest[0], rest[1:]
	}
	if len(rest) == 0 {
		return reply(workflow.MsgStateError)
	}
	id, err := strconv.ParseUint(rest[0], 10, 64)
	if err != nil {
		return reply(workflow.MsgStateError)
	}
	seed := map[string]any{"unit_id": uint(id)}

	switch action {
	case "history":
		page := 0
		if len(rest) > 1 {
			page, _ = strconv.Atoi(rest[1])
		}
		return ch.history(uint(id), page)
	case "issue":
		return Response{Flow: &FlowStart{Name: workflow.FlowIssue, Step: workflow.IssueFromCard, Seed: seed}}
	case "repair":
		return Response{Flow: &FlowStart{Name: workflow.FlowRepair, Step: workflow.RepairFromCard, Seed: seed}}
	case "machine:set":
		return Response{Flow: &FlowStart{Name: workflow.FlowMachine, Seed: seed}}
	case "machine:clear":
		if denied, ok := ch.requireActiveUser(msg); !ok {
			return denied
		}
		if err := unit.ClearMachine(ch.db, uint(id)); err != nil {
			if errors.Is(err, unit.ErrNotFound) {
				return reply(workflow.MsgUnitNotFound)
			}
			return reply(fmt.Sprintf("Ошибка: %v", err))
		}
		return reply("Привязка к машине очищена.")
	}
	return reply(workflow.MsgStateError)
}

func (ch *CommandHandler) cmdFind(args []string) Response {
	if len(args) == 0 {
		return reply("Использование: `!find <номер>`")
	}
	number := strings.Join(args, " ")
	units, err := unit.FindByNumber(ch.db, number)
	if err != nil {
		return reply(fmt.Sprintf("Ошибка поиска: %v", err))
	}
	if len(units) == 0 {
		return reply(fmt.Sprintf("Блоки с номером %s не найдены.", number))
	}

	resp := Response{}
	for i := range units {
		u := &units[i]
		received, err := unit.LatestEvent(ch.db, u.ID, unit.EventReceived)
		if err != nil {
			return reply(fmt.Sprintf("Ошибка поиска: %v", err))
		}
		resp.Replies = append(resp.Replies, OutboundMessage{
			Events:  []FormattedEvent{FormatUnitCard(u, received)},
			Choices: unitActions(u.ID),
		})
	}
	return resp
}

func (ch *CommandHandler) cmdHistory(args []string) Response {
	if len(args) == 0 {
		return reply("Использование: `!history <id> [страница]`")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return reply(fmt.Sprintf("Некорректный ID: %s", args[0]))
	}
	page := 0
	if len(args) > 1 {
		if p, err := strconv.Atoi(args[1]); err == nil {
			page = p - 1
		}
	}
	return ch.history(uint(id), page)
}

func (ch *CommandHandler) history(id uint, page int) Response {
	u, err := unit.Get(ch.db, id)
	if err != nil {
		if errors.Is(err, unit.ErrNotFound) {
			return reply(workflow.MsgUnitNotFound)
		}
		return reply(fmt.Sprintf("Ошибка: %v", err))
	}
	hp, err := unit.History(ch.db, id, page)
	if err != nil {
		return reply(fmt.Sprintf("Ошибка: %v", err))
	}
	text, nav := FormatHistory(u, hp)
	return Response{Replies: []OutboundMessage{{Text: text, Choices: nav}}}
}

func (ch *CommandHandler) cmdExport(arg string) Response {
	scope, err := export.ParseScope(arg)
	if err != nil {
		return reply("Использование: `!export stock|all`")
	}
	at := now()
	data, err := export.Render(ch.db, scope, at)
	if err != nil {
		return reply(fmt.Sprintf("Не удалось сформировать выгрузку: %v", err))
	}
	return Response{Replies: []OutboundMessage{{
		Text: "Выгрузка блоков:",
		Files: []OutboundFile{{
			Name:        export.Filename(scope, at),
			ContentType: export.ContentType,
			Data:        data,
		}},
	}}}
}

func (ch *CommandHandler) cmdPrinters() Response {
	printers, err := printing.ListPrinters(ch.db)
	if err != nil {
		return reply(fmt.Sprintf("Ошибка: %v", err))
	}
	return reply(FormatPrinters(printers, now()))
}

func (ch *CommandHandler) cmdAddPrinter(msg InboundMessage, args []string) Response {
	if denied, ok := ch.requireActiveUser(msg); !ok {
		return denied
	}
	if len(args) == 0 {
		return reply("Использование: `!add_printer <название>`")
	}
	name := strings.Join(args, " ")
	if _, err := printing.AddPrinter(ch.db, name); err != nil {
		if errors.Is(err, printing.ErrPrinterExists) {
			return reply(fmt.Sprintf("Принтер %s уже существует.", name))
		}
		return reply(fmt.Sprintf("Ошибка: %v", err))
	}
	return reply(fmt.Sprintf("Принтер %s добавлен.", name))
}

func (ch *CommandHandler) cmdMaint(msg InboundMessage, args []string) Response {
	if denied, ok := ch.requireActiveUser(msg); !ok {
		return denied
	}
	if len(args) != 2 {
		return reply("Использование: `!maint <принтер> <минуты>`")
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil || minutes <= 0 {
		return reply("Укажите положительное число минут.")
	}
	p, err := printing.SetMaintenance(ch.db, args[0], time.Duration(minutes)*time.Minute)
	if err != nil {
		if errors.Is(err, printing.ErrPrinterNotFound) {
			return reply(fmt.Sprintf("Принтер %s не найден.", args[0]))
		}
		return reply(fmt.Sprintf("Ошибка: %v", err))
	}
	return reply(fmt.Sprintf("Принтер %s на обслуживании до %s.", p.Name, p.MaintenanceUntil.Format(timeLayout)))
}

func (ch *CommandHandler) cmdApprove(msg InboundMessage, args []string) Response {
	if !ch.isAdmin(identityOf(msg).Key()) {
		return reply("Команда доступна только администраторам.")
	}
	if len(args) != 1 {
		return reply("Использование: `!approve <platform:user>`")
	}
	u, err := identity.Approve(ch.db, args[0])
	if err != nil {
		if errors.Is(err, identity.ErrNotRegistered) {
			return reply(fmt.Sprintf("Пользователь %s не зарегистрирован.", args[0]))
		}
		return reply(fmt.Sprintf("Ошибка: %v", err))
	}
	name := u.ExternalID
	if u.FullName != nil {
		name = *u.FullName
	}
	return reply(fmt.Sprintf("Пользователь %s активирован.", name))
}

// requireActiveUser returns the refusal to send when the sender may not
// change data.
func (ch *CommandHandler) requireActiveUser(msg InboundMessage) (Response, bool) {
	if !ch.requireActive {
		return Response{}, true
	}
	r, err := identity.Resolve(ch.db, identityOf(msg))
	if err != nil {
		return reply(fmt.Sprintf("Ошибка: %v", err)), false
	}
	if !r.IsActive() {
		return reply(workflow.MsgNotActive), false
	}
	return Response{}, true
}

func blocksMenu() [][]Choice {
	return [][]Choice{
		{
			{Label: "📥 Приём", Token: "blocks:receive"},
			{Label: "📤 Выдача", Token: "blocks:issue"},
		},
		{
			{Label: "🔧 Ремонт", Token: "blocks:repair"},
			{Label: "📄 Экспорт", Token: "blocks:export"},
		},
	}
}

func exportMenu() Response {
	return Response{Replies: []OutboundMessage{{
		Text: "Что выгрузить?",
		Choices: [][]Choice{{
			{Label: "На складе", Token: "blocks:export:stock"},
			{Label: "Все блоки", Token: "blocks:export:all"},
		}},
	}}}
}

// helpText returns usage information for all commands.
func (ch *CommandHandler) helpText() string {
	return "**Blockyard**\n" +
		"`!blocks` или `блоки` — меню блоков\n" +
		"`!receive` / `!issue` / `!repair` — приём, выдача, ремонт\n" +
		"`!find <номер>` — карточки блоков\n" +
		"`!history <id> [страница]` — история блока\n" +
		"`!export stock|all` — выгрузка XML\n" +
		"`!print` — заявка на 3D-печать\n" +
		"`!printers` / `!add_printer <название>` / `!maint <принтер> <минуты>`\n" +
		"`!register` — регистрация, `!approve <platform:user>` — подтверждение (админ)\n" +
		"`!cancel` — отменить текущий процесс\n" +
		"`!help` — это сообщение"
}
