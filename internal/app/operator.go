package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"dn-carry-bot/internal/controller"
	"dn-carry-bot/internal/strategy"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

const (
	operatorOffsetKey   = "telegram:operator:last_update_id"
	operatorErrorWait   = 5 * time.Second
	operatorJournalSize = 10
)

type operatorController interface {
	Status() controller.Status
	Pause(ctx context.Context)
	Resume(ctx context.Context)
	RequestExit() error
	Clear(ctx context.Context) (controller.TickRecord, error)
	Rehedge(ctx context.Context) (controller.TickRecord, error)
}

type operatorChannel interface {
	Enabled() bool
	ChatID() int64
	Send(ctx context.Context, message string) error
	Updates(ctx context.Context, offset int, timeout time.Duration) ([]tgbotapi.Update, error)
}

type operatorMeta struct {
	UpdateID int
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int                `json:"update_id"`
	Time         time.Time          `json:"time"`
	Action       string             `json:"action"`
	Command      string             `json:"command"`
	UserID       int64              `json:"user_id,omitempty"`
	Username     string             `json:"username,omitempty"`
	ChatID       int64              `json:"chat_id"`
	StateBefore  strategy.Lifecycle `json:"state_before"`
	StateAfter   strategy.Lifecycle `json:"state_after"`
	PausedBefore bool               `json:"paused_before"`
	PausedAfter  bool               `json:"paused_after"`
	Result       string             `json:"result,omitempty"`
}

func (a *App) operatorLoop(ctx context.Context, pollTimeout time.Duration) {
	if pollTimeout <= 0 {
		pollTimeout = 30 * time.Second
	}
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.channel.Updates(ctx, offset, pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(operatorErrorWait):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil {
		return
	}
	// Only the configured chat may steer the controller.
	if msg.Chat.ID != a.channel.ChatID() {
		a.log.Warn("ignoring operator message from unknown chat", zap.Int64("chat_id", msg.Chat.ID))
		return
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{UpdateID: upd.UpdateID, ChatID: msg.Chat.ID, Raw: msg.Text}
	if msg.From != nil {
		meta.UserID = msg.From.ID
		meta.Username = msg.From.UserName
	}
	resp, err := a.handleOperatorCommand(ctx, cmd, args, meta)
	if err != nil {
		resp = fmt.Sprintf("command failed: %v", err)
	}
	if resp == "" {
		return
	}
	if err := a.channel.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Group chats address commands as /status@botname.
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	if cmd == "" {
		return "", nil, false
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) (string, error) {
	switch cmd {
	case "status":
		return formatStatus(a.ops.Status()), nil
	case "pause":
		before := a.ops.Status()
		a.ops.Pause(ctx)
		a.audit(ctx, "pause", meta, before, "")
		if before.Paused {
			return "entries already paused", nil
		}
		return "entries paused; an open position is still monitored", nil
	case "resume":
		before := a.ops.Status()
		a.ops.Resume(ctx)
		a.audit(ctx, "resume", meta, before, "")
		if !before.Paused {
			return "entries already enabled", nil
		}
		return "entries resumed", nil
	case "exit":
		before := a.ops.Status()
		err := a.ops.RequestExit()
		a.audit(ctx, "exit", meta, before, errResult(err))
		if errors.Is(err, controller.ErrNoPosition) {
			return fmt.Sprintf("no position to exit (state %s)", before.State), nil
		}
		if err != nil {
			return "", err
		}
		return "exit requested; the position unwinds on the next tick", nil
	case "clear":
		before := a.ops.Status()
		rec, err := a.ops.Clear(ctx)
		a.audit(ctx, "clear", meta, before, errResult(err))
		if errors.Is(err, controller.ErrNotDegraded) {
			return fmt.Sprintf("nothing to clear (state %s)", before.State), nil
		}
		if err != nil {
			return "", err
		}
		return "reconciled: " + formatTick(rec), nil
	case "rehedge":
		before := a.ops.Status()
		rec, err := a.ops.Rehedge(ctx)
		a.audit(ctx, "rehedge", meta, before, errResult(err))
		if errors.Is(err, controller.ErrNoPosition) {
			return fmt.Sprintf("no position to rehedge (state %s)", before.State), nil
		}
		if err != nil {
			return "", err
		}
		return "rehedged: " + formatTick(rec), nil
	case "journal":
		return a.journalText(ctx, args)
	default:
		return operatorHelpText(), nil
	}
}

func (a *App) journalText(ctx context.Context, args []string) (string, error) {
	n := operatorJournalSize
	if len(args) > 0 {
		parsed, err := strconv.Atoi(args[0])
		if err != nil || parsed <= 0 {
			return "", fmt.Errorf("journal size %q must be a positive integer", args[0])
		}
		n = parsed
	}
	if a.journal == nil {
		return "journal unavailable", nil
	}
	entries, err := a.journal.Recent(ctx, n)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return "journal empty", nil
	}
	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		line := fmt.Sprintf("%s %s/%s %s %s #%d %s",
			time.UnixMilli(e.StartedAtMS).UTC().Format(time.RFC3339), e.Venue, e.Kind, e.Step, e.Amount, e.Attempt, e.Status)
		if e.TxRef != "" {
			line += " " + e.TxRef
		}
		if e.Reason != "" {
			line += " (" + e.Reason + ")"
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func formatStatus(st controller.Status) string {
	lines := []string{
		fmt.Sprintf("state: %s", st.State),
		fmt.Sprintf("paused: %t", st.Paused),
		fmt.Sprintf("reconciled: %t", st.Reconciled),
	}
	if st.Reason != "" {
		lines = append(lines, fmt.Sprintf("reason: %s", st.Reason))
	}
	if pos := st.Position; pos != nil {
		lines = append(lines,
			fmt.Sprintf("collateral: %s ETH", pos.CollateralETH.StringFixed(4)),
			fmt.Sprintf("debt: %s USDC", pos.DebtUSDC.StringFixed(2)),
			fmt.Sprintf("short: %s ETH", pos.ShortETH.StringFixed(4)),
			fmt.Sprintf("legs: %s", legsText(pos.Legs)),
		)
		if pos.MarginUSDC.IsPositive() {
			lines = append(lines, fmt.Sprintf("perp margin: %s USDC", pos.MarginUSDC.StringFixed(2)))
		}
		if !pos.EntryTimestamp.IsZero() {
			lines = append(lines, fmt.Sprintf("entered: %s", pos.EntryTimestamp.UTC().Format(time.RFC3339)))
		}
	} else {
		lines = append(lines, "position: none")
	}
	if !st.LastTick.Timestamp.IsZero() {
		lines = append(lines, "last tick: "+formatTick(st.LastTick))
	}
	return strings.Join(lines, "\n")
}

func formatTick(rec controller.TickRecord) string {
	parts := []string{string(rec.State)}
	if rec.Action != "" {
		parts = append(parts, rec.Action)
	}
	if est := rec.Estimate; est != nil {
		parts = append(parts, "net_apy="+est.NetAPY.StringFixed(4))
	}
	if risk := rec.Risk; risk != nil {
		parts = append(parts, "ltv="+risk.LTV.StringFixed(4), "buffer="+risk.Buffer.StringFixed(4))
		if risk.PerpMaintenanceUSD.IsPositive() {
			parts = append(parts, "perp_buffer="+risk.PerpMarginBuffer.StringFixed(4))
		}
	}
	if rec.Reason != "" {
		parts = append(parts, "reason="+rec.Reason)
	}
	if rec.Err != "" {
		parts = append(parts, "error="+rec.Err)
	}
	if !rec.Timestamp.IsZero() {
		parts = append(parts, "at "+rec.Timestamp.UTC().Format(time.RFC3339))
	}
	return strings.Join(parts, " ")
}

func legsText(legs strategy.LegSet) string {
	var names []string
	if legs.Supplied {
		names = append(names, "supplied")
	}
	if legs.Borrowed {
		names = append(names, "borrowed")
	}
	if legs.Shorted {
		names = append(names, "shorted")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - lifecycle state, position and last tick",
		"/pause - stop new entries",
		"/resume - allow new entries",
		"/exit - unwind the open position",
		"/clear - reconcile a halted controller from live venue reads",
		"/rehedge - resize the short to match collateral now",
		"/journal [n] - recent venue intents",
	}, "\n")
}

func errResult(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

func (a *App) audit(ctx context.Context, action string, meta operatorMeta, before controller.Status, result string) {
	after := a.ops.Status()
	a.auditOperatorEvent(ctx, operatorAuditEvent{
		UpdateID:     meta.UpdateID,
		Time:         time.Now().UTC(),
		Action:       action,
		Command:      meta.Raw,
		UserID:       meta.UserID,
		Username:     meta.Username,
		ChatID:       meta.ChatID,
		StateBefore:  before.State,
		StateAfter:   after.State,
		PausedBefore: before.Paused,
		PausedAfter:  after.Paused,
		Result:       result,
	})
	a.log.Info("operator command",
		zap.String("action", action),
		zap.Int64("user_id", meta.UserID),
		zap.String("state_before", string(before.State)),
		zap.String("state_after", string(after.State)),
		zap.String("result", result),
	)
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int) {
	if a.store == nil {
		return
	}
	if err := a.store.Set(ctx, operatorOffsetKey, strconv.Itoa(offset)); err != nil {
		a.log.Warn("operator offset persist failed", zap.Error(err))
	}
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", time.Now().UTC().UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
