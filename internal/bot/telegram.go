package bot

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/BearBump/TrackBot/internal/logger"
	"github.com/BearBump/TrackBot/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"
)

const (
	defaultPollTimeout = 10 * time.Second
	handleTimeout      = 60 * time.Second
	// Telegram allows roughly 30 messages per second per bot.
	sendsPerSecond = 25
)

// api is the part of *tele.Bot the bot drives.
type api interface {
	Handle(endpoint interface{}, h tele.HandlerFunc, m ...tele.MiddlewareFunc)
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	SetCommands(opts ...interface{}) error
	Start()
	Stop()
}

// Telegram connects a Handler to the Bot API via long polling. It also
// delivers pushed notifications.
type Telegram struct {
	bot     api
	handler *Handler
	limiter *rate.Limiter
	log     zerolog.Logger

	mu      sync.Mutex
	running bool
	// polling is set once the poller goroutine is committed to bot.Start.
	// bot.Stop blocks until that loop receives it.
	polling bool
	done    chan struct{}
}

func NewTelegram(token string, pollTimeout time.Duration, log zerolog.Logger) (*Telegram, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if pollTimeout <= 0 {
		pollTimeout = defaultPollTimeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
		OnError: func(err error, c tele.Context) {
			log.Error().Err(err).Msg("telegram update failed")
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "create telegram bot")
	}
	return &Telegram{
		bot:     b,
		limiter: rate.NewLimiter(rate.Limit(sendsPerSecond), 1),
		log:     logger.Component(log, "telegram"),
	}, nil
}

// SetCommands publishes the command menu.
func (t *Telegram) SetCommands() error {
	cmds := make([]tele.Command, 0, len(Menu))
	for _, c := range Menu {
		cmds = append(cmds, tele.Command{Text: c.Name, Description: c.Description})
	}
	return errors.Wrap(t.bot.SetCommands(cmds), "set commands")
}

// Start registers handler and begins polling until ctx is done or Stop is called.
func (t *Telegram) Start(ctx context.Context, handler *Handler) {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return
	}
	t.running = true
	t.handler = handler
	done := make(chan struct{})
	t.done = done
	t.mu.Unlock()

	t.bot.Handle(tele.OnText, func(c tele.Context) error {
		m := c.Message()
		if m == nil || m.Chat == nil {
			return nil
		}
		hctx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()

		chat := models.ChatID(m.Chat.ID)
		var reply Reply
		if name, args, ok := ParseCommand(m.Text); ok {
			reply = t.handler.Command(hctx, chat, name, args)
		} else {
			reply = t.handler.Text(hctx, chat, m.Text)
		}
		return t.send(hctx, chat, reply)
	})

	t.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		cb := c.Callback()
		m := c.Message()
		if cb == nil || m == nil || m.Chat == nil {
			return nil
		}
		if err := c.Respond(&tele.CallbackResponse{}); err != nil {
			t.log.Debug().Err(err).Msg("answer callback")
		}
		hctx, cancel := context.WithTimeout(ctx, handleTimeout)
		defer cancel()

		reply, ok := t.handler.Callback(hctx, models.ChatID(m.Chat.ID), strings.TrimPrefix(cb.Data, "\f"))
		if !ok {
			return nil
		}
		_, err := t.bot.Edit(m, reply.Text, options(reply))
		if err != nil && !strings.Contains(err.Error(), "message is not modified") {
			return errors.Wrap(err, "edit message")
		}
		return nil
	})

	go func() {
		<-ctx.Done()
		t.Stop()
	}()
	go func() {
		defer close(done)
		t.mu.Lock()
		if !t.running {
			t.mu.Unlock()
			return
		}
		t.polling = true
		t.mu.Unlock()

		t.log.Info().Msg("polling started")
		t.bot.Start()
	}()
}

// Stop ends polling and waits briefly for the poller to exit.
func (t *Telegram) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	polling := t.polling
	t.polling = false
	done := t.done
	t.mu.Unlock()

	if !polling {
		<-done
		return
	}
	go t.bot.Stop()
	select {
	case <-done:
		t.log.Info().Msg("polling stopped")
	case <-time.After(2 * time.Second):
		t.log.Warn().Msg("polling did not stop in time")
	}
}

// Notify sends a pushed notification to its chat.
func (t *Telegram) Notify(ctx context.Context, n models.Notification) error {
	return t.send(ctx, n.ChatID, Reply{Text: n.Text, HTML: true, Actions: n.Actions})
}

func (t *Telegram) send(ctx context.Context, chat models.ChatID, r Reply) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "wait send slot")
	}
	_, err := t.bot.Send(&tele.Chat{ID: int64(chat)}, r.Text, options(r))
	return errors.Wrapf(err, "send to chat %d", chat)
}

func options(r Reply) *tele.SendOptions {
	opts := &tele.SendOptions{DisableWebPagePreview: true}
	if r.HTML {
		opts.ParseMode = tele.ModeHTML
	}
	if len(r.Actions) > 0 {
		opts.ReplyMarkup = Keyboard(r.Actions)
	}
	return opts
}

// Keyboard converts quick actions into an inline keyboard.
func Keyboard(rows [][]models.Action) *tele.ReplyMarkup {
	kb := make([][]tele.InlineButton, 0, len(rows))
	for _, row := range rows {
		btns := make([]tele.InlineButton, 0, len(row))
		for _, a := range row {
			btns = append(btns, tele.InlineButton{Text: a.Label, Data: a.Data})
		}
		kb = append(kb, btns)
	}
	return &tele.ReplyMarkup{InlineKeyboard: kb}
}

// ParseCommand splits "/name@bot a b" into its name and arguments.
func ParseCommand(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	name = strings.TrimPrefix(fields[0], "/")
	name, _, _ = strings.Cut(name, "@")
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), fields[1:], true
}
