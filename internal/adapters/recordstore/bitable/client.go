package bitable

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
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/bnema/redpost/internal/domain"
	"github.com/bnema/redpost/internal/ports"
)

const (
	defaultBaseURL       = "https://open.feishu.cn/open-apis"
	maxResponseBytes     = 4 << 20
	listPageSize         = 100
	tokenExpiryMargin    = 5 * time.Minute
	defaultWriteTimeout  = 30 * time.Second
	attachmentFileFormat = "%s_%d.png"
)

// FieldMap names the table columns the engine reads and writes. The
// defaults match the bitable layout the content pipeline produces.
type FieldMap struct {
	Title       string
	Body        string
	CatalogItem string
	Status      string
	ScheduledAt string
	CreatedAt   string
	Account     string
	Cover       string
	ResultRef   string
	Reason      string
	PublishedAt string
}

func DefaultFieldMap() FieldMap {
	return FieldMap{
		Title:       "小红书标题",
		Body:        "小红书文案",
		CatalogItem: "商品ID",
		Status:      "状态",
		ScheduledAt: "定时时间",
		CreatedAt:   "生成时间",
		Account:     "目标账号",
		Cover:       "小红书封面",
		ResultRef:   "发布链接",
		Reason:      "失败原因",
		PublishedAt: "发布时间",
	}
}

// StatusValues are the strings written to the status column per task
// status.
type StatusValues struct {
	Pending    string
	InProgress string
	Published  string
	Failed     string
	Expired    string
}

func DefaultStatusValues() StatusValues {
	return StatusValues{
		Pending:    "待发布",
		InProgress: "发布中",
		Published:  "已发布",
		Failed:     "发布失败",
		Expired:    "已过期",
	}
}

type Config struct {
	BaseURL   string
	AppID     string
	AppSecret string
	AppToken  string
	TableID   string
	MediaDir  string
	Fields    FieldMap
	Statuses  StatusValues
}

// Client reads publish tasks from a bitable and writes terminal
// statuses back. Tenant tokens are cached until shortly before expiry;
// the table id is resolved once when not configured.
type Client struct {
	cfg    Config
	http   *http.Client
	fs     afero.Fs
	logger *slog.Logger
	clock  ports.Clock

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	tableID     string
}

var _ ports.RecordStore = (*Client)(nil)

func NewClient(cfg Config, httpClient *http.Client, fs afero.Fs, clock ports.Clock, logger *slog.Logger) (*Client, error) {
	if cfg.AppID == "" || cfg.AppSecret == "" {
		return nil, errors.New("bitable app id and secret are required")
	}
	if cfg.AppToken == "" {
		return nil, errors.New("bitable app token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Fields == (FieldMap{}) {
		cfg.Fields = DefaultFieldMap()
	}
	if cfg.Statuses == (StatusValues{}) {
		cfg.Statuses = DefaultStatusValues()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultWriteTimeout}
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if clock == nil {
		clock = ports.SystemClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		fs:      fs,
		clock:   clock,
		logger:  logger,
		tableID: cfg.TableID,
	}, nil
}

type apiEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            int64  `json:"expire"`
}

type tableList struct {
	Items []struct {
		TableID string `json:"table_id"`
		Name    string `json:"name"`
	} `json:"items"`
}

type recordList struct {
	Items []struct {
		RecordID string                 `json:"record_id"`
		Fields   map[string]interface{} `json:"fields"`
	} `json:"items"`
	HasMore   bool   `json:"has_more"`
	PageToken string `json:"page_token"`
}

// FetchPending lists every record in the table and keeps the ones
// whose status column still reads pending.
func (c *Client) FetchPending(ctx context.Context) ([]domain.Task, error) {
	tableID, err := c.resolveTable(ctx)
	if err != nil {
		return nil, err
	}

	var tasks []domain.Task
	pageToken := ""
	for {
		page, err := c.listRecords(ctx, tableID, pageToken)
		if err != nil {
			return nil, err
		}

		for _, record := range page.Items {
			task, ok := c.parseRecord(ctx, record.RecordID, record.Fields)
			if !ok {
				continue
			}
			tasks = append(tasks, task)
		}

		if !page.HasMore || page.PageToken == "" {
			break
		}
		pageToken = page.PageToken
	}

	c.logger.Info("fetched pending records", "table", tableID, "count", len(tasks))
	return tasks, nil
}

// WriteStatus updates the record's status column and the outcome
// columns that apply to the new status.
func (c *Client) WriteStatus(ctx context.Context, id string, status domain.TaskStatus, detail ports.ResultDetail) error {
	tableID, err := c.resolveTable(ctx)
	if err != nil {
		return err
	}

	fields := map[string]interface{}{
		c.cfg.Fields.Status: c.statusValue(status),
	}
	if detail.ArtifactRef != "" {
		fields[c.cfg.Fields.ResultRef] = detail.ArtifactRef
	}
	if detail.Reason != "" {
		fields[c.cfg.Fields.Reason] = detail.Reason
	}
	if !detail.PublishedAt.IsZero() {
		fields[c.cfg.Fields.PublishedAt] = detail.PublishedAt.UnixMilli()
	}

	body, err := json.Marshal(map[string]interface{}{"fields": fields})
	if err != nil {
		return fmt.Errorf("encode status update: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bitable/v1/apps/%s/tables/%s/records/%s",
		c.cfg.BaseURL, url.PathEscape(c.cfg.AppToken), url.PathEscape(tableID), url.PathEscape(id))

	var envelope apiEnvelope
	if err := c.doAuthed(ctx, http.MethodPut, endpoint, bytes.NewReader(body), &envelope); err != nil {
		return fmt.Errorf("update record %s: %w", id, err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("update record %s: bitable error %d: %s", id, envelope.Code, envelope.Msg)
	}

	c.logger.Info("record status written", "record", id, "status", status)
	return nil
}

func (c *Client) statusValue(status domain.TaskStatus) string {
	switch status {
	case domain.StatusInProgress:
		return c.cfg.Statuses.InProgress
	case domain.StatusPublished:
		return c.cfg.Statuses.Published
	case domain.StatusFailed:
		return c.cfg.Statuses.Failed
	case domain.StatusExpired:
		return c.cfg.Statuses.Expired
	}
	return c.cfg.Statuses.Pending
}

// resolveTable returns the configured table id, falling back to the
// first table of the base.
func (c *Client) resolveTable(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.tableID
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	endpoint := fmt.Sprintf("%s/bitable/v1/apps/%s/tables", c.cfg.BaseURL, url.PathEscape(c.cfg.AppToken))

	var envelope apiEnvelope
	if err := c.doAuthed(ctx, http.MethodGet, endpoint, nil, &envelope); err != nil {
		return "", fmt.Errorf("list tables: %w", err)
	}
	if envelope.Code != 0 {
		return "", fmt.Errorf("list tables: bitable error %d: %s", envelope.Code, envelope.Msg)
	}

	var tables tableList
	if err := json.Unmarshal(envelope.Data, &tables); err != nil {
		return "", fmt.Errorf("decode table list: %w", err)
	}
	if len(tables.Items) == 0 {
		return "", errors.New("base has no tables")
	}

	c.mu.Lock()
	c.tableID = tables.Items[0].TableID
	c.mu.Unlock()

	c.logger.Info("resolved table", "table", tables.Items[0].TableID, "name", tables.Items[0].Name)
	return tables.Items[0].TableID, nil
}

func (c *Client) listRecords(ctx context.Context, tableID, pageToken string) (recordList, error) {
	endpoint := fmt.Sprintf("%s/bitable/v1/apps/%s/tables/%s/records?page_size=%d",
		c.cfg.BaseURL, url.PathEscape(c.cfg.AppToken), url.PathEscape(tableID), listPageSize)
	if pageToken != "" {
		endpoint += "&page_token=" + url.QueryEscape(pageToken)
	}

	var envelope apiEnvelope
	if err := c.doAuthed(ctx, http.MethodGet, endpoint, nil, &envelope); err != nil {
		return recordList{}, fmt.Errorf("list records: %w", err)
	}
	if envelope.Code != 0 {
		return recordList{}, fmt.Errorf("list records: bitable error %d: %s", envelope.Code, envelope.Msg)
	}

	var page recordList
	if err := json.Unmarshal(envelope.Data, &page); err != nil {
		return recordList{}, fmt.Errorf("decode record list: %w", err)
	}
	return page, nil
}

// parseRecord turns a raw record into a task. Records that are not
// pending, or that lack title or body, are skipped.
func (c *Client) parseRecord(ctx context.Context, recordID string, fields map[string]interface{}) (domain.Task, bool) {
	status := textValue(fields[c.cfg.Fields.Status])
	if status != "" && status != c.cfg.Statuses.Pending {
		return domain.Task{}, false
	}

	title := textValue(fields[c.cfg.Fields.Title])
	body := textValue(fields[c.cfg.Fields.Body])
	if title == "" || body == "" {
		c.logger.Warn("record missing title or body, skipped", "record", recordID)
		return domain.Task{}, false
	}

	account := textValue(fields[c.cfg.Fields.Account])
	if account == "" {
		account = "default"
	}

	now := c.clock.Now()
	task := domain.Task{
		ID:            recordID,
		Account:       domain.AccountKey(account),
		Title:         title,
		Body:          body,
		CatalogItemID: textValue(fields[c.cfg.Fields.CatalogItem]),
		Status:        domain.StatusPending,
		ScheduledAt:   timeValue(fields[c.cfg.Fields.ScheduledAt], now),
		CreatedAt:     timeValue(fields[c.cfg.Fields.CreatedAt], now),
	}
	task.MediaRefs = c.downloadAttachments(ctx, recordID, fields[c.cfg.Fields.Cover])

	return task, true
}

// downloadAttachments fetches the cover attachments into the media
// directory so the publish flow can upload them from disk. A failed
// download drops that attachment only.
func (c *Client) downloadAttachments(ctx context.Context, recordID string, field interface{}) []string {
	attachments, ok := field.([]interface{})
	if !ok || c.cfg.MediaDir == "" {
		return nil
	}

	if err := c.fs.MkdirAll(c.cfg.MediaDir, 0o755); err != nil {
		c.logger.Warn("create media directory failed", "dir", c.cfg.MediaDir, "error", err)
		return nil
	}

	var paths []string
	for i, raw := range attachments {
		entry, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		fileToken, _ := entry["file_token"].(string)
		if fileToken == "" {
			continue
		}

		path := filepath.Join(c.cfg.MediaDir, fmt.Sprintf(attachmentFileFormat, recordID, i))
		if err := c.downloadMedia(ctx, fileToken, path); err != nil {
			c.logger.Warn("attachment download failed", "record", recordID, "error", err)
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

func (c *Client) downloadMedia(ctx context.Context, fileToken, path string) error {
	endpoint := fmt.Sprintf("%s/drive/v1/medias/%s/download", c.cfg.BaseURL, url.PathEscape(fileToken))

	token, err := c.tenantToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download media: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download media: unexpected status %d", resp.StatusCode)
	}

	file, err := c.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create media file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := io.Copy(file, io.LimitReader(resp.Body, maxResponseBytes)); err != nil {
		return fmt.Errorf("write media file: %w", err)
	}
	return nil
}

// tenantToken returns a cached tenant access token, refreshing it when
// it is near expiry.
func (c *Client) tenantToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token != "" && c.clock.Now().Before(c.tokenExpiry) {
		token := c.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	body, err := json.Marshal(map[string]string{
		"app_id":     c.cfg.AppID,
		"app_secret": c.cfg.AppSecret,
	})
	if err != nil {
		return "", fmt.Errorf("encode token request: %w", err)
	}

	endpoint := c.cfg.BaseURL + "/auth/v3/tenant_access_token/internal"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("request tenant token: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var payload tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if payload.Code != 0 {
		return "", fmt.Errorf("request tenant token: bitable error %d: %s", payload.Code, payload.Msg)
	}
	if payload.TenantAccessToken == "" {
		return "", errors.New("token response missing tenant access token")
	}

	expiry := c.clock.Now().Add(time.Duration(payload.Expire) * time.Second)
	c.mu.Lock()
	c.token = payload.TenantAccessToken
	c.tokenExpiry = expiry.Add(-tokenExpiryMargin)
	c.mu.Unlock()

	return payload.TenantAccessToken, nil
}

func (c *Client) doAuthed(ctx context.Context, method, endpoint string, body io.Reader, out *apiEnvelope) error {
	token, err := c.tenantToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// textValue flattens the polymorphic bitable field encodings down to a
// plain string: rich-text arrays, single text objects, or scalars.
func textValue(field interface{}) string {
	switch v := field.(type) {
	case nil:
		return ""
	case string:
		return v
	case []interface{}:
		out := ""
		for _, item := range v {
			if obj, ok := item.(map[string]interface{}); ok {
				if text, ok := obj["text"].(string); ok {
					out += text
					continue
				}
			}
			if s, ok := item.(string); ok {
				out += s
			}
		}
		return out
	case map[string]interface{}:
		if text, ok := v["text"].(string); ok {
			return text
		}
		return ""
	case float64:
		return fmt.Sprintf("%.0f", v)
	}
	return ""
}

// timeValue reads a date field, which the API encodes as epoch
// milliseconds, falling back when the column is empty.
func timeValue(field interface{}, fallback time.Time) time.Time {
	switch v := field.(type) {
	case float64:
		if v > 0 {
			return time.UnixMilli(int64(v)).UTC()
		}
	case string:
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return parsed
		}
	}
	return fallback
}
