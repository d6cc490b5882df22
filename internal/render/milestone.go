package render

import "strings"

var milestoneText = map[int]string{
	1: "Đang chuẩn bị giao",
	5: "Đang vận chuyển",
	6: "Đang giao hàng",
	8: "Đã giao thành công",
}

var milestoneIcon = map[int]string{
	1: "⏳",
	5: "🚚",
	6: "🛵",
	8: "✅",
}

// StatusText translates a milestone into the Vietnamese status line. Unknown codes
// fall back to keywords in the raw milestone name.
func StatusText(code *int, name string) string {
	if code != nil {
		if s, ok := milestoneText[*code]; ok {
			return s
		}
	}
	low := strings.ToLower(name)
	switch {
	case strings.Contains(low, "return"):
		return "Đang hoàn hàng"
	case strings.Contains(low, "cancel"):
		return "Đã huỷ"
	case strings.Contains(low, "fail"), strings.Contains(low, "exception"):
		return "Có sự cố"
	}
	if name != "" {
		return name
	}
	return "Không rõ trạng thái"
}

func StatusIcon(code *int, name string) string {
	if code != nil {
		if s, ok := milestoneIcon[*code]; ok {
			return s
		}
	}
	low := strings.ToLower(name)
	switch {
	case strings.Contains(low, "return"):
		return "↩️"
	case strings.Contains(low, "cancel"):
		return "🛑"
	case strings.Contains(low, "fail"), strings.Contains(low, "exception"):
		return "⚠️"
	}
	return "📦"
}
