package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const probeTimeout = 5 * time.Second

// Version is the reply to Browser.getVersion.
type Version struct {
	ProtocolVersion string `json:"protocolVersion"`
	Product         string `json:"product"`
	Revision        string `json:"revision"`
	UserAgent       string `json:"userAgent"`
	JSVersion       string `json:"jsVersion"`
}

// Probe checks that a DevTools endpoint answers protocol commands. endpoint
// is either the HTTP base ("http://127.0.0.1:9222") or a browser WebSocket
// URL. It talks to the socket directly so a probe never creates a target.
func Probe(ctx context.Context, endpoint string) (*Version, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	wsURL := endpoint
	if !strings.HasPrefix(endpoint, "ws://") && !strings.HasPrefix(endpoint, "wss://") {
		var err error
		wsURL, err = browserWSURL(ctx, endpoint)
		if err != nil {
			return nil, fmt.Errorf("probe: browser ws url: %w", err)
		}
	}

	slog.Debug("probing devtools endpoint", "ws_url", wsURL)
	conn, _, _, err := ws.Dial(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("probe: dial: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	const id = 1
	req, err := json.Marshal(struct {
		ID     int64  `json:"id"`
		Method string `json:"method"`
	}{ID: id, Method: "Browser.getVersion"})
	if err != nil {
		return nil, fmt.Errorf("probe: marshal: %w", err)
	}
	if err := wsutil.WriteClientText(conn, req); err != nil {
		return nil, fmt.Errorf("probe: send: %w", err)
	}

	for {
		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			return nil, fmt.Errorf("probe: read: %w", err)
		}
		var msg struct {
			ID     int64    `json:"id"`
			Result *Version `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &msg) != nil || msg.ID != id {
			continue
		}
		if msg.Error != nil {
			return nil, fmt.Errorf("probe: Browser.getVersion: %s (%d)", msg.Error.Message, msg.Error.Code)
		}
		if msg.Result == nil {
			return nil, fmt.Errorf("probe: empty Browser.getVersion result")
		}
		return msg.Result, nil
	}
}

func browserWSURL(ctx context.Context, httpBase string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(httpBase, "/")+"/json/version", nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("/json/version: HTTP %d", resp.StatusCode)
	}

	var info struct {
		WebSocketDebuggerURL string `json:"webSocketDebuggerUrl"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", err
	}
	if info.WebSocketDebuggerURL == "" {
		return "", fmt.Errorf("empty webSocketDebuggerUrl")
	}
	return info.WebSocketDebuggerURL, nil
}
