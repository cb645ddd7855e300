package upstox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const feedWriteTimeout = 5 * time.Second

// FeedConn is an open websocket market-data feed.
type FeedConn struct {
	conn *websocket.Conn
}

// DialFeed authorizes the feed and opens the websocket connection.
func (c *Client) DialFeed(ctx context.Context) (*FeedConn, error) {
	uri, err := c.AuthorizeFeed(ctx)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.accessToken)

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, uri, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("upstox: feed dial status %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("upstox: feed dial: %w", err)
	}
	return &FeedConn{conn: conn}, nil
}

type subscribeRequest struct {
	GUID   string `json:"guid"`
	Method string `json:"method"`
	Data   struct {
		Mode           string   `json:"mode"`
		InstrumentKeys []string `json:"instrumentKeys"`
	} `json:"data"`
}

// Subscribe requests full-mode updates for the given instrument keys. The
// request goes out as a binary frame, as the feed expects.
func (f *FeedConn) Subscribe(guid string, instrumentKeys []string) error {
	req := subscribeRequest{GUID: guid, Method: "sub"}
	req.Data.Mode = "full"
	req.Data.InstrumentKeys = instrumentKeys

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	f.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
	if err := f.conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		return fmt.Errorf("upstox: subscribe: %w", err)
	}
	return nil
}

// Read blocks for the next feed frame and returns its raw bytes.
func (f *FeedConn) Read() ([]byte, error) {
	_, payload, err := f.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("upstox: feed read: %w", err)
	}
	return payload, nil
}

// Close closes the websocket after a best-effort close handshake.
func (f *FeedConn) Close() error {
	f.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return f.conn.Close()
}
