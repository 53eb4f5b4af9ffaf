// Package browser 外部多标签浏览器壳的控制接口客户端
//
// 客户端本身不保存任何状态，不缓存、不重试，可被多个任务并发调用；
// 并发量受全局信号量限制，避免压垮浏览器壳。
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/types"

	"github.com/imroc/req/v3"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"
)

// Shell 浏览器壳操作集合，会话编排、工作流和登录都只依赖这个接口
type Shell interface {
	CreateTab(ctx context.Context, platform types.Platform, label, initialURL string) (string, error)
	ListTabs(ctx context.Context) ([]TabInfo, error)
	SwitchTo(ctx context.Context, tabID string) error
	Navigate(ctx context.Context, tabID, url string) error
	Execute(ctx context.Context, tabID, script string) (gjson.Result, error)
	SetFileInput(ctx context.Context, tabID, selector, path string) error
	LoadCookies(ctx context.Context, tabID, path string) error
	SaveCookies(ctx context.Context, tabID, path string) error
	Refresh(ctx context.Context, tabID string) error
	CloseTab(ctx context.Context, tabID string) error
}

// TabInfo 浏览器壳汇报的标签页信息
type TabInfo struct {
	TabID      string
	Label      string
	CookieFile string
	CurrentURL string
	LastUsed   time.Time // 壳未提供时为零值
}

// Client 浏览器壳 HTTP 客户端
type Client struct {
	baseURL        string
	http           *req.Client
	callTimeout    time.Duration
	fileSetTimeout time.Duration
	inflight       *semaphore.Weighted
}

// NewClient 按配置创建客户端
func NewClient(cfg config.ShellConfig) *Client {
	callTimeout := cfg.CallTimeout.Duration
	if callTimeout <= 0 {
		callTimeout = config.DefaultShellCallTimeout
	}
	fileSetTimeout := cfg.FileSetTimeout.Duration
	if fileSetTimeout <= 0 {
		fileSetTimeout = config.DefaultFileSetTimeout
	}
	maxInflight := cfg.MaxInflightCalls
	if maxInflight <= 0 {
		maxInflight = config.DefaultMaxInflightCalls
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = config.DefaultShellBaseURL
	}

	httpClient := req.C().
		SetCommonHeader("Accept", "application/json").
		SetUserAgent("fuploader-shell-client")

	return &Client{
		baseURL:        baseURL,
		http:           httpClient,
		callTimeout:    callTimeout,
		fileSetTimeout: fileSetTimeout,
		inflight:       semaphore.NewWeighted(int64(maxInflight)),
	}
}

// BaseURL 控制接口地址
func (c *Client) BaseURL() string {
	return c.baseURL
}

// CreateTab 新建标签页并返回 tabId
func (c *Client) CreateTab(ctx context.Context, platform types.Platform, label, initialURL string) (string, error) {
	body := map[string]interface{}{
		"accountName": label,
		"platform":    platform.String(),
		"initialUrl":  initialURL,
	}
	resp, err := c.call(ctx, "create_tab", http.MethodPost, "/account/create", body, c.callTimeout)
	if err != nil {
		return "", err
	}
	tabID := resp.Get("data.tabId").String()
	if tabID == "" {
		return "", types.NewShellError("create_tab", http.StatusOK, "response missing data.tabId")
	}
	return tabID, nil
}

// ListTabs 列出壳中的全部标签页
func (c *Client) ListTabs(ctx context.Context) ([]TabInfo, error) {
	resp, err := c.call(ctx, "list_tabs", http.MethodGet, "/accounts", nil, c.callTimeout)
	if err != nil {
		return nil, err
	}

	data := resp.Get("data")
	tabs := make([]TabInfo, 0, len(data.Array()))
	data.ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			id = item.Get("tabId").String()
		}
		if id == "" {
			return true
		}
		tabs = append(tabs, TabInfo{
			TabID:      id,
			Label:      item.Get("accountName").String(),
			CookieFile: item.Get("cookieFile").String(),
			CurrentURL: item.Get("currentUrl").String(),
			LastUsed:   parseTimestamp(item.Get("lastUsed"), item.Get("lastActiveAt")),
		})
		return true
	})
	return tabs, nil
}

// SwitchTo 切换到指定标签页
func (c *Client) SwitchTo(ctx context.Context, tabID string) error {
	_, err := c.call(ctx, "switch", http.MethodPost, "/account/switch", map[string]string{"tabId": tabID}, c.callTimeout)
	return err
}

// Navigate 导航到 url，导航提交即返回，不等待页面加载完成
func (c *Client) Navigate(ctx context.Context, tabID, url string) error {
	_, err := c.call(ctx, "navigate", http.MethodPost, "/account/navigate", map[string]string{
		"tabId": tabID,
		"url":   url,
	}, c.callTimeout)
	return err
}

// Execute 在标签页中执行脚本并返回结果
func (c *Client) Execute(ctx context.Context, tabID, script string) (gjson.Result, error) {
	resp, err := c.call(ctx, "execute", http.MethodPost, "/account/execute", map[string]string{
		"tabId":  tabID,
		"script": script,
	}, c.callTimeout)
	if err != nil {
		return gjson.Result{}, err
	}
	return resp.Get("data"), nil
}

// SetFileInput 由驱动层直接给文件输入框赋值，不支持时返回 FileInputUnsupported
func (c *Client) SetFileInput(ctx context.Context, tabID, selector, path string) error {
	_, err := c.call(ctx, "set_file", http.MethodPost, "/account/set-file", map[string]string{
		"tabId":    tabID,
		"selector": selector,
		"filePath": path,
	}, c.fileSetTimeout)
	var shellErr *types.Error
	if errors.As(err, &shellErr) && isUnsupported(shellErr) {
		return types.NewFileInputUnsupported(selector, shellErr.Message)
	}
	return err
}

// LoadCookies 让标签页加载凭证文件
func (c *Client) LoadCookies(ctx context.Context, tabID, path string) error {
	_, err := c.call(ctx, "load_cookies", http.MethodPost, "/account/load-cookies", map[string]string{
		"tabId":      tabID,
		"cookieFile": path,
	}, c.callTimeout)
	return err
}

// SaveCookies 让标签页把当前存储状态写入凭证文件
func (c *Client) SaveCookies(ctx context.Context, tabID, path string) error {
	_, err := c.call(ctx, "save_cookies", http.MethodPost, "/account/save-cookies", map[string]string{
		"tabId":      tabID,
		"cookieFile": path,
	}, c.callTimeout)
	return err
}

// Refresh 刷新标签页
func (c *Client) Refresh(ctx context.Context, tabID string) error {
	_, err := c.call(ctx, "refresh", http.MethodPost, "/account/refresh", map[string]string{"tabId": tabID}, c.callTimeout)
	return err
}

// CloseTab 关闭标签页
func (c *Client) CloseTab(ctx context.Context, tabID string) error {
	_, err := c.call(ctx, "close_tab", http.MethodPost, "/account/close", map[string]string{"tabId": tabID}, c.callTimeout)
	return err
}

// Health 检查浏览器壳是否可用
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.call(ctx, "health", http.MethodGet, "/health", nil, c.callTimeout)
	if err != nil {
		return err
	}
	if status := resp.Get("status").String(); status != "" && status != "ok" {
		return types.NewShellError("health", http.StatusOK, "status "+status)
	}
	return nil
}

// call 发起一次控制接口调用
//
// 调用方取消只在排队等待并发名额时生效；请求一旦发出，
// 只受本次调用自身的超时约束，不会在 HTTP 中途被打断。
func (c *Client) call(ctx context.Context, op, method, path string, body interface{}, timeout time.Duration) (gjson.Result, error) {
	if err := ctx.Err(); err != nil {
		return gjson.Result{}, types.NewCancelled(op, err)
	}
	if err := c.inflight.Acquire(ctx, 1); err != nil {
		return gjson.Result{}, types.NewCancelled(op, err)
	}
	defer c.inflight.Release(1)

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	start := time.Now()
	r := c.http.R().SetContext(callCtx)
	if body != nil {
		r.SetBodyJsonMarshal(body)
	}
	resp, err := r.Send(method, c.baseURL+path)
	if err != nil {
		observeCall(op, "unreachable", start)
		return gjson.Result{}, types.NewShellUnreachable(op, err)
	}

	payload := resp.Bytes()
	result := gjson.ParseBytes(payload)
	message := result.Get("error").String()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		observeCall(op, "http_error", start)
		if message == "" {
			message = strings.TrimSpace(string(payload))
		}
		if tabID, scoped := tabOf(body); scoped && (resp.StatusCode == http.StatusNotFound || isTabNotFoundMessage(message)) {
			return gjson.Result{}, tabNotFound(op, tabID, message)
		}
		return gjson.Result{}, types.NewShellError(op, resp.StatusCode, message)
	}

	if success := result.Get("success"); success.Exists() && !success.Bool() {
		observeCall(op, "failed", start)
		tabID, scoped := tabOf(body)
		switch {
		case scoped && isTabNotFoundMessage(message):
			return gjson.Result{}, tabNotFound(op, tabID, message)
		case op == "execute":
			return gjson.Result{}, types.NewScriptError("", message)
		}
		return gjson.Result{}, types.NewShellError(op, resp.StatusCode, message)
	}

	observeCall(op, "ok", start)
	return result, nil
}

// tabOf 取出请求体中的 tabId，只有针对具体标签页的调用才可能返回 TabNotFound
func tabOf(body interface{}) (string, bool) {
	fields, ok := body.(map[string]string)
	if !ok {
		return "", false
	}
	tabID, ok := fields["tabId"]
	return tabID, ok
}

func tabNotFound(op, tabID, message string) error {
	err := types.NewTabNotFound(op, tabID)
	if message != "" {
		err.Message = fmt.Sprintf("%s: %s", err.Message, message)
	}
	return err
}

func isTabNotFoundMessage(message string) bool {
	msg := strings.ToLower(message)
	return strings.Contains(msg, "tab not found") || strings.Contains(msg, "no such tab")
}

func isUnsupported(e *types.Error) bool {
	if e.Kind != types.KindShellError {
		return false
	}
	if e.Status == http.StatusNotImplemented {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "unsupported") || strings.Contains(msg, "not supported")
}

// parseTimestamp 兼容毫秒时间戳与 RFC3339 字符串
func parseTimestamp(values ...gjson.Result) time.Time {
	for _, v := range values {
		switch v.Type {
		case gjson.Number:
			if ms := v.Int(); ms > 0 {
				return time.UnixMilli(ms)
			}
		case gjson.String:
			if t, err := time.Parse(time.RFC3339, v.String()); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}
