package telegram

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	kit "alertbot/internal/transport"
	logx "alertbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Offline: false,
		Poller:  &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Adapter{cfg: cfg, log: log, bot: b}, nil
}

const textLimit = 4000

func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctxErr(ctx); err != nil {
		return kit.MessageRef{}, err
	}

	chat := &tele.Chat{ID: to.ChatID}
	sendOpt := &tele.SendOptions{
		ParseMode:             opt.ParseMode,
		DisableWebPagePreview: opt.DisablePreview,
		ThreadID:              to.ThreadID,
	}

	msg, err := a.bot.Send(chat, truncRunes(text, textLimit), sendOpt)
	if err != nil {
		return kit.MessageRef{}, classify(err)
	}
	return kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) error {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	if err := ctxErr(ctx); err != nil {
		return err
	}

	m := &tele.Message{ID: ref.MessageID, Chat: &tele.Chat{ID: ref.ChatID}}
	sendOpt := &tele.SendOptions{ParseMode: opt.ParseMode, DisableWebPagePreview: opt.DisablePreview}

	_, err := a.bot.Edit(m, truncRunes(text, textLimit), sendOpt)
	if err != nil {
		return classify(err)
	}
	return nil
}

// Handle registers a bot command or callback handler.
func (a *Adapter) Handle(endpoint string, fn tele.HandlerFunc) {
	a.bot.Handle(endpoint, fn)
}

// Start runs the update long-poll loop until the context ends.
func (a *Adapter) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		a.bot.Stop()
	}()
	a.bot.Start()
}

func ctxErr(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	select {
	case <-ctx.Done():
		return &kit.DeliveryError{Reason: kit.ReasonTimeout, Err: ctx.Err()}
	default:
		return nil
	}
}

// classify maps telebot and network errors onto the transport reason set.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &kit.DeliveryError{Reason: kit.ReasonTimeout, Err: err}
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &kit.DeliveryError{Reason: kit.ReasonRateLimited, Err: err}
	}

	var aerr *tele.Error
	if errors.As(err, &aerr) {
		switch {
		case aerr.Code == 429:
			return &kit.DeliveryError{Reason: kit.ReasonRateLimited, Err: err}
		case aerr.Code == 403:
			return &kit.DeliveryError{Reason: kit.ReasonBlocked, Err: err}
		case aerr.Code == 400:
			d := strings.ToLower(aerr.Description)
			if strings.Contains(d, "chat not found") || strings.Contains(d, "user not found") {
				return &kit.DeliveryError{Reason: kit.ReasonChatNotFound, Err: err}
			}
			return &kit.DeliveryError{Reason: kit.ReasonBadRequest, Err: err}
		case aerr.Code >= 500:
			return &kit.DeliveryError{Reason: kit.ReasonInternal, Err: err}
		}
		return &kit.DeliveryError{Reason: kit.ReasonUnknown, Err: err}
	}

	var nerr net.Error
	if errors.As(err, &nerr) {
		if nerr.Timeout() {
			return &kit.DeliveryError{Reason: kit.ReasonTimeout, Err: err}
		}
		return &kit.DeliveryError{Reason: kit.ReasonNetwork, Err: err}
	}

	return &kit.DeliveryError{Reason: kit.ReasonNetwork, Err: err}
}

func truncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		count++
		if count > n {
			return s[:i] + "…"
		}
	}
	return s
}
