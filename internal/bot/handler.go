// Package bot turns chat commands into watcher operations and renders the replies.
package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/BearBump/TrackBot/internal/logger"
	"github.com/BearBump/TrackBot/internal/models"
	"github.com/BearBump/TrackBot/internal/render"
	"github.com/BearBump/TrackBot/internal/services/watcher"
	"github.com/BearBump/TrackBot/internal/tracking"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type Service interface {
	Add(ctx context.Context, id models.ChatID, code, alias string) (watcher.AddResult, error)
	Remove(ctx context.Context, id models.ChatID, code string) (models.Subscription, error)
	Rename(ctx context.Context, id models.ChatID, code, alias string) error
	List(ctx context.Context, id models.ChatID) ([]models.Subscription, error)
	Interval(ctx context.Context, id models.ChatID) (int, error)
	SetInterval(ctx context.Context, id models.ChatID, minutes int) error
	Lookup(ctx context.Context, id models.ChatID, code string) (watcher.LookupResult, error)
	Timeline(ctx context.Context, code string, n int) (watcher.TimelineResult, error)
}

// Reply is a transport-independent answer. Plain replies are sent without a
// parse mode since they may contain literal angle brackets.
type Reply struct {
	Text    string
	HTML    bool
	Actions [][]models.Action
}

func plain(format string, a ...any) Reply { return Reply{Text: fmt.Sprintf(format, a...)} }

func fromNotification(n models.Notification) Reply {
	return Reply{Text: n.Text, HTML: true, Actions: n.Actions}
}

const (
	msgInvalidCode     = "❌ Mã không đúng định dạng SPXVN..."
	msgAlreadyWatched  = "ℹ️ Mã này đã tồn tại trong danh sách theo dõi."
	msgNotInList       = "❌ Mã này không có trong danh sách. Dùng /list để xem."
	msgRenameNotInList = "❌ Mã này chưa có trong danh sách. Dùng /add để thêm trước."
	msgInvalidInterval = "❌ Interval không hợp lệ. Chọn 1–60 phút."
	msgFallback        = "Gửi mã SPXVN... hoặc dùng /help."
	msgInternal        = "❌ Lỗi hệ thống, thử lại sau."
)

// Command describes one menu entry.
type Command struct {
	Name        string
	Description string
}

// Menu is the command list published to the chat client.
var Menu = []Command{
	{"add", "Thêm mã vận đơn để theo dõi"},
	{"remove", "Xóa mã khỏi danh sách theo dõi"},
	{"name", "Đổi tên gợi nhớ cho mã vận đơn"},
	{"list", "Danh sách đơn hàng"},
	{"tt", "Xem thông tin mới nhất"},
	{"timeline", "Xem timeline"},
	{"track", "Đổi chu kỳ theo dõi (phút)"},
	{"help", "Hướng dẫn"},
}

type Handler struct {
	svc Service
	log zerolog.Logger
}

func NewHandler(svc Service, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, log: logger.Component(log, "bot")}
}

// Command handles "/name args..." with the leading slash already stripped.
func (h *Handler) Command(ctx context.Context, chat models.ChatID, name string, args []string) Reply {
	switch strings.ToLower(name) {
	case "start", "help":
		return Reply{Text: render.Help}
	case "add":
		return h.add(ctx, chat, args)
	case "list":
		return h.list(ctx, chat)
	case "tt":
		if len(args) == 0 {
			return plain("Cú pháp: /tt <Mã>")
		}
		return h.lookup(ctx, chat, args[0])
	case "timeline":
		if len(args) == 0 {
			return plain("Cú pháp: /timeline <Mã> [n]")
		}
		n := tracking.DefaultRecent
		if len(args) >= 2 {
			if v, err := strconv.Atoi(args[1]); err == nil {
				n = v
			}
		}
		return h.timeline(ctx, args[0], n)
	case "remove":
		return h.remove(ctx, chat, args)
	case "name":
		return h.rename(ctx, chat, args)
	case "track", "interval":
		return h.interval(ctx, chat, args)
	}
	return plain(msgFallback)
}

// Text handles a message that is not a command.
func (h *Handler) Text(ctx context.Context, chat models.ChatID, text string) Reply {
	text = strings.TrimSpace(text)
	if fields := strings.Fields(text); len(fields) >= 2 && strings.EqualFold(fields[0], "timeline") {
		return h.timeline(ctx, fields[1], tracking.DefaultRecent)
	}
	if code := models.NormalizeCode(text); models.ValidTrackingCode(code) {
		return h.lookup(ctx, chat, code)
	}
	return plain(msgFallback)
}

// Callback handles a quick-action button. ok is false for unknown data.
func (h *Handler) Callback(ctx context.Context, chat models.ChatID, data string) (Reply, bool) {
	action, code, ok := render.ParseAction(data)
	if !ok {
		return Reply{}, false
	}
	switch action {
	case render.ActionRefresh:
		res, err := h.svc.Lookup(ctx, chat, code)
		if err != nil {
			return plain("❌ Lỗi: %s", h.describe(err)), true
		}
		return fromNotification(res.Notification(chat)), true
	case render.ActionTimeline:
		res, err := h.svc.Timeline(ctx, code, tracking.DefaultRecent)
		if err != nil {
			return plain("❌ Lỗi: %s", h.describe(err)), true
		}
		return fromNotification(res.Notification(chat)), true
	}
	return Reply{}, false
}

func (h *Handler) add(ctx context.Context, chat models.ChatID, args []string) Reply {
	if len(args) < 2 {
		return plain("Cú pháp: /add <Mã> <tên gợi nhớ>")
	}
	res, err := h.svc.Add(ctx, chat, args[0], strings.Join(args[1:], " "))
	switch {
	case errors.Is(err, models.ErrInvalidCode):
		return plain(msgInvalidCode)
	case errors.Is(err, models.ErrAlreadyWatched):
		return plain(msgAlreadyWatched)
	case err != nil:
		return h.failure(err)
	}
	if res.LookupErr != nil {
		return plain("✅ Đã thêm vào list, nhưng tra API lỗi: %s", h.describe(res.LookupErr))
	}
	return fromNotification(res.Lookup.Notification(chat))
}

func (h *Handler) list(ctx context.Context, chat models.ChatID) Reply {
	subs, err := h.svc.List(ctx, chat)
	if err != nil {
		return h.failure(err)
	}
	if len(subs) == 0 {
		return Reply{Text: render.List(nil)}
	}
	return Reply{Text: render.List(subs), HTML: true, Actions: render.ListActions(subs)}
}

func (h *Handler) lookup(ctx context.Context, chat models.ChatID, code string) Reply {
	res, err := h.svc.Lookup(ctx, chat, code)
	if errors.Is(err, models.ErrInvalidCode) {
		return plain(msgInvalidCode)
	}
	if err != nil {
		return plain("❌ Lỗi tra cứu: %s", h.describe(err))
	}
	return fromNotification(res.Notification(chat))
}

func (h *Handler) timeline(ctx context.Context, code string, n int) Reply {
	res, err := h.svc.Timeline(ctx, code, n)
	if errors.Is(err, models.ErrInvalidCode) {
		return plain(msgInvalidCode)
	}
	if err != nil {
		return plain("❌ Lỗi timeline: %s", h.describe(err))
	}
	return fromNotification(res.Notification(0))
}

func (h *Handler) remove(ctx context.Context, chat models.ChatID, args []string) Reply {
	if len(args) == 0 {
		return plain("Cú pháp: /remove <Mã>")
	}
	removed, err := h.svc.Remove(ctx, chat, args[0])
	if errors.Is(err, models.ErrNotWatched) {
		return plain(msgNotInList)
	}
	if err != nil {
		return h.failure(err)
	}
	return Reply{Text: render.Removed(removed), HTML: true}
}

func (h *Handler) rename(ctx context.Context, chat models.ChatID, args []string) Reply {
	if len(args) < 2 {
		return plain("Cú pháp: /name <Mã> <tên gợi nhớ mới>")
	}
	code := models.NormalizeCode(args[0])
	alias := strings.TrimSpace(strings.Join(args[1:], " "))
	err := h.svc.Rename(ctx, chat, code, alias)
	if errors.Is(err, models.ErrNotWatched) {
		return plain(msgRenameNotInList)
	}
	if err != nil {
		return h.failure(err)
	}
	return Reply{Text: render.Renamed(code, alias), HTML: true}
}

func (h *Handler) interval(ctx context.Context, chat models.ChatID, args []string) Reply {
	if len(args) == 0 {
		cur, err := h.svc.Interval(ctx, chat)
		if err != nil {
			return h.failure(err)
		}
		return plain("Chu kỳ hiện tại: %d phút.\nCú pháp: /track <phút> (1–60)", cur)
	}
	minutes, err := strconv.Atoi(args[0])
	if err != nil || !models.ValidInterval(minutes) {
		return plain(msgInvalidInterval)
	}
	err = h.svc.SetInterval(ctx, chat, minutes)
	if errors.Is(err, models.ErrInvalidInterval) {
		return plain(msgInvalidInterval)
	}
	if err != nil {
		return h.failure(err)
	}
	return plain("✅ Đã đặt chu kỳ theo dõi: %d phút.", minutes)
}

// describe maps an error to the short text shown to the user.
func (h *Handler) describe(err error) string {
	switch models.KindOf(err) {
	case models.KindUpstream:
		return "không gọi được API tra cứu"
	case models.KindMalformedResponse:
		return "dữ liệu trả về không hợp lệ"
	case models.KindValidation:
		return err.Error()
	}
	h.log.Error().Err(err).Msg("unexpected error")
	return "lỗi hệ thống"
}

func (h *Handler) failure(err error) Reply {
	if models.KindOf(err) == models.KindValidation {
		return plain("❌ %s", err.Error())
	}
	h.log.Error().Err(err).Msg("command failed")
	return plain(msgInternal)
}
