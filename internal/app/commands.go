package app

import (
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"alertbot/internal/registry"
	logx "alertbot/pkg/logx"
)

// registerCommands wires the admin command surface: incident ack/snooze,
// quarantine bypass and a small status readout. Non-admin senders are
// ignored silently.
func (a *App) registerCommands() {
	a.adapter.Handle("/ack", a.adminOnly(a.cmdAck))
	a.adapter.Handle("/snooze", a.adminOnly(a.cmdSnooze))
	a.adapter.Handle("/bypass", a.adminOnly(a.cmdBypass))
	a.adapter.Handle("/status", a.adminOnly(a.cmdStatus))
}

func (a *App) adminOnly(fn func(c tele.Context, user registry.User) error) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		for _, u := range a.reg.Get().Users {
			if u.ChatID == sender.ID && u.Active() && u.Admin() {
				return fn(c, u)
			}
		}
		a.log.Debug("command from non-admin ignored", logx.Int64("chat_id", sender.ID))
		return nil
	}
}

// /ack <incident-id>
func (a *App) cmdAck(c tele.Context, _ registry.User) error {
	id := strings.TrimSpace(c.Message().Payload)
	if id == "" {
		return c.Send("usage: /ack <incident-id>")
	}
	ctx := a.sup.Context()
	if !a.eng.Incidents().Ack(ctx, id, time.Now()) {
		return c.Send("unknown incident: " + id)
	}
	return c.Send("acked " + id)
}

// /snooze <incident-id> <duration>
func (a *App) cmdSnooze(c tele.Context, _ registry.User) error {
	parts := strings.Fields(c.Message().Payload)
	if len(parts) != 2 {
		return c.Send("usage: /snooze <incident-id> <duration>")
	}
	d, err := time.ParseDuration(parts[1])
	if err != nil || d <= 0 {
		return c.Send("bad duration: " + parts[1])
	}
	ctx := a.sup.Context()
	if !a.eng.Incidents().Snooze(ctx, parts[0], time.Now().Add(d)) {
		return c.Send("unknown incident: " + parts[0])
	}
	return c.Send(fmt.Sprintf("snoozed %s for %s", parts[0], d))
}

// /bypass <category> [duration] arms the one-shot quarantine bypass for
// the next fan-out of the category.
func (a *App) cmdBypass(c tele.Context, _ registry.User) error {
	parts := strings.Fields(c.Message().Payload)
	if len(parts) == 0 {
		return c.Send("usage: /bypass <category> [duration]")
	}
	d := 10 * time.Minute
	if len(parts) > 1 {
		v, err := time.ParseDuration(parts[1])
		if err != nil || v <= 0 {
			return c.Send("bad duration: " + parts[1])
		}
		d = v
	}
	a.eng.Delivery().SetBypass(a.sup.Context(), parts[0], time.Now().Add(d))
	return c.Send(fmt.Sprintf("quarantine bypass armed for %q (%s)", parts[0], d))
}

// /status lists recent fan-out outcomes, newest last.
func (a *App) cmdStatus(c tele.Context, _ registry.User) error {
	events := a.eng.Recorder().Recent(a.sup.Context())
	if len(events) == 0 {
		return c.Send("no recorded notifications")
	}
	const show = 10
	start := 0
	if len(events) > show {
		start = len(events) - show
	}
	var b strings.Builder
	fmt.Fprintf(&b, "last %d of %d:\n", len(events)-start, len(events))
	for _, e := range events[start:] {
		fmt.Fprintf(&b, "%s %s %s", e.TS.Format("01-02 15:04"), e.Topic, e.Result)
		if e.Reason != "" {
			fmt.Fprintf(&b, " (%s)", e.Reason)
		}
		fmt.Fprintf(&b, " →%d\n", e.Recipients)
	}
	return c.Send(b.String())
}
