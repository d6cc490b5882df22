package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Client is a local stand-in for the SPX lookup. Each code gets a deterministic
// journey; one more milestone becomes visible every Step since the journey start.
type Client struct {
	Step time.Duration
	now  func() time.Time
}

func New() *Client { return &Client{Step: 10 * time.Minute, now: time.Now} }

// WithClock replaces the time source.
func (c *Client) WithClock(now func() time.Time) *Client {
	c.now = now
	return c
}

type stage struct {
	code      string
	milestone int
	name      string
	desc      string
	location  string
}

var journey = []stage{
	{"F000", 1, "Preparing", "Người gửi đang chuẩn bị hàng", "Kho người gửi"},
	{"F100", 5, "In transit", "Đơn hàng đã đến kho phân loại", "SOC Hồ Chí Minh"},
	{"F400", 5, "In transit", "Đơn hàng đã rời kho phân loại", "SOC Hồ Chí Minh"},
	{"F600", 6, "Out for delivery", "Đơn hàng đang được giao", "Bưu cục Quận 1"},
	{"F980", 8, "Delivered", "Giao hàng thành công", "Bưu cục Quận 1"},
}

type record struct {
	TrackingCode     string `json:"tracking_code"`
	ActualTime       int64  `json:"actual_time"`
	MilestoneCode    int    `json:"milestone_code"`
	MilestoneName    string `json:"milestone_name"`
	Description      string `json:"description"`
	BuyerDescription string `json:"buyer_description"`
	CurrentLocation  struct {
		FullAddress string `json:"full_address"`
	} `json:"current_location"`
}

type payload struct {
	Data struct {
		Info struct {
			ShipmentID string   `json:"sls_tn"`
			Records    []record `json:"records"`
		} `json:"sls_tracking_info"`
	} `json:"data"`
}

func (c *Client) Fetch(ctx context.Context, code string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(code))
	v := h.Sum32()

	now := c.now().UTC()
	step := c.Step
	if step <= 0 {
		step = 10 * time.Minute
	}
	// journeys restart every few trips; the offset spreads codes across the window
	span := step * time.Duration(len(journey))
	start := now.Truncate(4 * span).Add(time.Duration(int64(v) % int64(span)))

	var p payload
	p.Data.Info.ShipmentID = code
	for i, s := range journey {
		at := start.Add(step * time.Duration(i))
		if at.After(now) {
			break
		}
		r := record{
			TrackingCode:     s.code,
			ActualTime:       at.Unix(),
			MilestoneCode:    s.milestone,
			MilestoneName:    s.name,
			Description:      s.desc,
			BuyerDescription: s.desc,
		}
		r.CurrentLocation.FullAddress = s.location
		p.Data.Info.Records = append(p.Data.Info.Records, r)
	}
	if len(p.Data.Info.Records) == 0 {
		s := journey[0]
		p.Data.Info.Records = append(p.Data.Info.Records, record{
			TrackingCode: s.code, ActualTime: now.Truncate(4 * span).Unix(), MilestoneCode: s.milestone,
			MilestoneName: s.name, Description: s.desc,
		})
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrap(err, "marshal fake payload")
	}
	return raw, nil
}
