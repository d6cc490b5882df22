package models

import (
	"regexp"
	"strings"
)

// Interval bounds for a chat's watch loop, in minutes.
const (
	MinIntervalMinutes     = 1
	MaxIntervalMinutes     = 60
	DefaultIntervalMinutes = 5
)

var trackingCodeRe = regexp.MustCompile(`^SPXVN[0-9A-Z]+$`)

type ChatID int64

type TrackingEvent struct {
	EventCode        string
	Timestamp        int64
	MilestoneCode    *int
	MilestoneName    string
	TrackingName     string
	Description      string
	BuyerDescription string
	CurrentLocation  string
	NextLocation     string
}

type Subscription struct {
	TrackingCode   string `json:"tracking_code"`
	Alias          string `json:"alias"`
	LastNotifiedTS int64  `json:"last_ts"`
}

// Advance moves the high-water mark forward. Older or equal values are ignored.
func (s *Subscription) Advance(ts int64) bool {
	if ts <= s.LastNotifiedTS {
		return false
	}
	s.LastNotifiedTS = ts
	return true
}

type ChatState struct {
	ChatID          ChatID         `json:"chat_id"`
	IntervalMinutes int            `json:"interval"`
	Subscriptions   []Subscription `json:"shipments"`
}

func NewChatState(id ChatID, intervalMinutes int) *ChatState {
	if !ValidInterval(intervalMinutes) {
		intervalMinutes = DefaultIntervalMinutes
	}
	return &ChatState{ChatID: id, IntervalMinutes: intervalMinutes}
}

func (c *ChatState) Find(code string) (*Subscription, bool) {
	for i := range c.Subscriptions {
		if c.Subscriptions[i].TrackingCode == code {
			return &c.Subscriptions[i], true
		}
	}
	return nil, false
}

func (c *ChatState) Remove(code string) (Subscription, bool) {
	for i, s := range c.Subscriptions {
		if s.TrackingCode == code {
			c.Subscriptions = append(c.Subscriptions[:i:i], c.Subscriptions[i+1:]...)
			return s, true
		}
	}
	return Subscription{}, false
}

func (c *ChatState) Clone() *ChatState {
	cp := *c
	cp.Subscriptions = append([]Subscription(nil), c.Subscriptions...)
	return &cp
}

// NormalizeCode trims and upper-cases user input.
func NormalizeCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func ValidTrackingCode(code string) bool {
	return trackingCodeRe.MatchString(code)
}

func ValidInterval(minutes int) bool {
	return minutes >= MinIntervalMinutes && minutes <= MaxIntervalMinutes
}

// Action is a quick-action token attached to an outgoing message.
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

type Notification struct {
	ChatID  ChatID     `json:"chat_id"`
	Text    string     `json:"text"`
	Actions [][]Action `json:"actions,omitempty"`
}
