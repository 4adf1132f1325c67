package farm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/ports"
)

const (
	defaultAPIURL    = "http://127.0.0.1:54345"
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20
	windowPageSize   = 100
)

type Config struct {
	APIURL string
}

// Opener drives the browser-farm management API: it asks the farm to
// open an account's window, then attaches to the debug endpoint the
// farm reports.
type Opener struct {
	cfg       Config
	http      *http.Client
	connector ports.Connector
	logger    *slog.Logger
}

var _ ports.SessionOpener = (*Opener)(nil)

func NewOpener(cfg Config, httpClient *http.Client, connector ports.Connector, logger *slog.Logger) *Opener {
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Opener{cfg: cfg, http: httpClient, connector: connector, logger: logger}
}

type farmResponse struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

type openPayload struct {
	WS   string `json:"ws"`
	HTTP string `json:"http"`
}

// Window is one browser identity managed by the farm.
type Window struct {
	ID     string `json:"id"`
	Seq    int    `json:"seq"`
	Name   string `json:"name"`
	Remark string `json:"remark"`
}

type windowPage struct {
	List  []Window `json:"list"`
	Total int      `json:"total"`
}

func (o *Opener) OpenSession(ctx context.Context, account domain.Account) (ports.Session, error) {
	if account.WindowID == "" {
		return nil, fmt.Errorf("account %s has no farm window id", account.Key)
	}

	var payload openPayload
	if err := o.post(ctx, "/browser/open", map[string]string{"id": account.WindowID}, &payload); err != nil {
		return nil, fmt.Errorf("open farm window %s: %w", account.WindowID, err)
	}

	debugURL, err := resolveDebugURL(payload)
	if err != nil {
		return nil, fmt.Errorf("window %s: %w", account.WindowID, err)
	}

	o.logger.Info("farm window opened", "account", account.Key, "window", account.WindowID, "debug_url", debugURL)

	session, err := o.connector.Connect(ctx, debugURL)
	if err != nil {
		return nil, fmt.Errorf("attach to window %s at %s: %w", account.WindowID, debugURL, err)
	}
	return session, nil
}

// ListWindows pages through the farm's window inventory.
func (o *Opener) ListWindows(ctx context.Context) ([]Window, error) {
	var all []Window
	for page := 0; ; page++ {
		var result windowPage
		err := o.post(ctx, "/browser/list", map[string]int{"page": page, "pageSize": windowPageSize}, &result)
		if err != nil {
			return nil, fmt.Errorf("list farm windows page %d: %w", page, err)
		}

		all = append(all, result.List...)
		if len(result.List) == 0 || len(all) >= result.Total {
			return all, nil
		}
	}
}

// CloseWindow asks the farm to shut an account's window down.
func (o *Opener) CloseWindow(ctx context.Context, windowID string) error {
	if err := o.post(ctx, "/browser/close", map[string]string{"id": windowID}, nil); err != nil {
		return fmt.Errorf("close farm window %s: %w", windowID, err)
	}
	return nil
}

func (o *Opener) post(ctx context.Context, path string, body interface{}, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.APIURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("farm api unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var envelope farmResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&envelope); err != nil {
		return fmt.Errorf("decode farm response: %w", err)
	}
	if !envelope.Success {
		return fmt.Errorf("farm api rejected request: %s", envelope.Msg)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode farm payload: %w", err)
	}
	return nil
}

// resolveDebugURL prefers the http endpoint the farm reports; when it
// is empty or malformed, the endpoint is derived from the websocket
// address host.
func resolveDebugURL(payload openPayload) (string, error) {
	if strings.HasPrefix(payload.HTTP, "http") {
		return payload.HTTP, nil
	}
	if strings.HasPrefix(payload.WS, "ws://") || strings.HasPrefix(payload.WS, "wss://") {
		parsed, err := url.Parse(payload.WS)
		if err != nil {
			return "", fmt.Errorf("parse websocket address %q: %w", payload.WS, err)
		}
		return "http://" + parsed.Host, nil
	}
	return "", errors.New("farm reported no usable debug endpoint")
}
