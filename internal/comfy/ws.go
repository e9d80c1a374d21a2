package comfy

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type string `json:"type"`
	Data struct {
		Node     *string `json:"node"`
		PromptID string  `json:"prompt_id"`
	} `json:"data"`
}

// watchProgress listens on the backend's websocket channel and signals
// when the given job finishes executing. The channel is best-effort:
// if the socket cannot be opened or drops, the caller's history polling
// still reaches the terminal state.
func (c *Client) watchProgress(ctx context.Context, promptID string) <-chan struct{} {
	done := make(chan struct{}, 1)

	go func() {
		wsURL := httpToWS(c.baseURL) + "/ws?clientId=" + c.clientID

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
		if err != nil {
			c.logger.Debug("websocket unavailable, relying on polling", "error", err)
			return
		}
		defer conn.Close()

		// Unblock the read loop when the wait is over.
		go func() {
			<-ctx.Done()
			conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}

			var msg wsMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Data.PromptID != promptID {
				continue
			}

			switch msg.Type {
			case "execution_success", "execution_error":
				done <- struct{}{}
				return
			case "executing":
				// A null node means the whole graph finished.
				if msg.Data.Node == nil {
					done <- struct{}{}
					return
				}
			}
		}
	}()

	return done
}

func httpToWS(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return "ws://" + base
	}
}
