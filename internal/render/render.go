// Package render builds the Telegram HTML messages sent to chats.
package render

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/BearBump/TrackBot/internal/models"
)

const (
	ActionRefresh  = "refresh"
	ActionTimeline = "timeline"

	maxListButtons = 12
	separator      = "---------------------"
	updateHeader   = "📣 <b>Có cập nhật mới</b>\n"
)

var vnLocation = loadLocation()

func loadLocation() *time.Location {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	if err != nil {
		return time.FixedZone("ICT", 7*60*60)
	}
	return loc
}

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) string { return escaper.Replace(s) }

func B(s string) string    { return "<b>" + Esc(s) + "</b>" }
func Code(s string) string { return "<code>" + Esc(s) + "</code>" }

// FormatTime renders epoch seconds in Vietnam local time.
func FormatTime(epoch int64) string {
	return time.Unix(epoch, 0).In(vnLocation).Format("15:04:05 02/01/2006")
}

func orDots(s string) string {
	if strings.TrimSpace(s) == "" {
		return "..."
	}
	return Esc(s)
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Card renders the latest state of a shipment.
func Card(code, alias string, ev models.TrackingEvent) string {
	desc := firstNonBlank(ev.Description, ev.TrackingName)
	buyer := strings.TrimSpace(ev.BuyerDescription)
	cur := strings.TrimSpace(ev.CurrentLocation)
	next := strings.TrimSpace(ev.NextLocation)

	when := "Chưa có thời gian"
	if ev.Timestamp > 0 {
		when = FormatTime(ev.Timestamp)
	}
	aliasShow := strings.TrimSpace(alias)
	if aliasShow == "" {
		aliasShow = "-"
	}

	lines := []string{
		Code(code),
		"🏷️ <b>Items</b>: " + Code(aliasShow),
		separator,
		"ℹ️ <b>Thông tin</b>: " + orDots(desc),
		"📝 <b>Chi tiết</b>: " + orDots(buyer),
	}
	if cur != "" {
		lines = append(lines, "📍 <b>Địa chỉ</b>: "+Esc(cur))
	}
	if next != "" {
		lines = append(lines, "🎯 <b>Điểm đến</b>: "+Esc(next))
	}
	lines = append(lines,
		"🕒 <b>Thời gian</b>: "+Esc(when),
		StatusIcon(ev.MilestoneCode, ev.MilestoneName)+" <b>Trạng thái</b>: "+B(StatusText(ev.MilestoneCode, ev.MilestoneName)),
	)
	return strings.Join(lines, "\n")
}

// UpdateCard is the card pushed by the watch loop.
func UpdateCard(code, alias string, ev models.TrackingEvent) string {
	return updateHeader + Card(code, alias, ev)
}

// Timeline renders events newest first; callers pass them already ordered.
func Timeline(code string, events []models.TrackingEvent) string {
	rows := make([]string, 0, len(events)+1)
	rows = append(rows, "<b>Timeline</b> "+Code(code))
	for _, ev := range events {
		when := "--"
		if ev.Timestamp > 0 {
			when = FormatTime(ev.Timestamp)
		}
		text := firstNonBlank(ev.BuyerDescription, ev.Description, ev.TrackingName)
		rows = append(rows, fmt.Sprintf("• %s — %s: %s", Esc(when), B(ev.EventCode), orDots(text)))
	}
	return strings.Join(rows, "\n")
}

func List(subs []models.Subscription) string {
	if len(subs) == 0 {
		return "Danh sách đơn hàng đang trống. Dùng /add để thêm."
	}
	lines := []string{"<b>Danh sách đơn hàng:</b>"}
	for _, s := range subs {
		lines = append(lines, fmt.Sprintf("%s (%s)", Code(s.TrackingCode), Esc(strings.TrimSpace(s.Alias))))
	}
	return strings.Join(lines, "\n")
}

func Removed(s models.Subscription) string {
	return fmt.Sprintf("✅ Đã xóa %s (%s) khỏi danh sách.", Code(s.TrackingCode), Esc(strings.TrimSpace(s.Alias)))
}

func Renamed(code, alias string) string {
	return fmt.Sprintf("✅ Đã đổi tên:\n%s\n→ %s", Code(code), Code(alias))
}

// Actions are the quick actions attached to a shipment card.
func Actions(code string) [][]models.Action {
	return [][]models.Action{{
		{Label: "🔄 Refresh", Data: ActionRefresh + "|" + code},
		{Label: "🧾 Timeline", Data: ActionTimeline + "|" + code},
	}}
}

// ListActions gives one refresh button per shipment, capped at 12 rows.
func ListActions(subs []models.Subscription) [][]models.Action {
	var rows [][]models.Action
	for i, s := range subs {
		if i >= maxListButtons {
			break
		}
		rows = append(rows, []models.Action{{Label: "📦 " + s.TrackingCode, Data: ActionRefresh + "|" + s.TrackingCode}})
	}
	return rows
}

// ParseAction splits callback data produced by Actions.
func ParseAction(data string) (action, code string, ok bool) {
	action, code, ok = strings.Cut(data, "|")
	if !ok || action == "" || code == "" {
		return "", "", false
	}
	return action, code, true
}

const Help = "SPX Tracking Bot\n\n" +
	"Gửi thẳng <mã SPXVN...> để xem thông tin mới nhất.\n\n" +
	"Lệnh:\n" +
	"/add <Mã> <tên gợi nhớ>\n" +
	"/list\n" +
	"/tt <Mã>\n" +
	"/timeline <Mã> [n]\n" +
	"/remove <Mã>\n" +
	"/name <Mã> <tên gợi nhớ mới>\n" +
	"/track <phút> (tuỳ chọn, 1–60)\n"
