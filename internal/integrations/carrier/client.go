package carrier

import "context"

// Client fetches the raw tracking payload for one shipment code.
type Client interface {
	Fetch(ctx context.Context, code string) ([]byte, error)
}
