// Package browsertest 提供进程内的假浏览器壳，用于测试会话编排、工作流和登录
//
// 假壳实现了控制接口的全部端点，并带有一个极简的脚本化 DOM：
// 带操作标记的脚本（见 recipe.ScriptOp）按操作模拟，location.href 与 !!document.querySelector(...)
// 按字面识别。默认所有选择器都存在（数量为 1），可以按需隐藏或改写。
package browsertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/config"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"

	"github.com/go-chi/chi/v5"
)

// TabState 假壳中标签页的快照
type TabState struct {
	ID         string
	Label      string
	Platform   string
	CookieFile string
	URL        string
	LastUsed   time.Time
}

type tab struct {
	TabState
	values map[string]string
	files  map[string]string
}

type fault struct {
	remaining int
	status    int
	message   string
}

// Shell 假浏览器壳
type Shell struct {
	server *httptest.Server

	mu        sync.Mutex
	tabs      map[string]*tab
	order     []string
	nextID    int
	calls     map[string]int
	faults    map[string]*fault
	stale     map[string]string // cookieFile -> 登录页
	hidden    map[string]bool
	counts    map[string]int
	texts     map[string]string
	down      bool
	nullHref  bool
	noFileSet bool
	delay     time.Duration

	// SavedCookies 保存凭证时写入文件的 cookies
	SavedCookies []map[string]interface{}
	// OnExecute 自定义脚本结果，handled 为 false 时继续走默认模拟
	OnExecute func(tabID, script string) (result interface{}, handled bool)
	// OnClick 点击元素后的回调，例如模拟页面跳转；text 为按文本过滤的条件
	OnClick func(tabID, selector, text string)
}

// NewShell 启动假壳，测试结束时自动关闭
func NewShell(t testing.TB) *Shell {
	t.Helper()
	s := &Shell{
		tabs:   make(map[string]*tab),
		calls:  make(map[string]int),
		faults: make(map[string]*fault),
		stale:  make(map[string]string),
		hidden: make(map[string]bool),
		counts: make(map[string]int),
		texts:  make(map[string]string),
		SavedCookies: []map[string]interface{}{
			{"name": "sessionid", "value": "abc", "domain": ".example.com", "path": "/", "expires": -1, "sameSite": "Lax"},
		},
	}

	r := chi.NewRouter()
	r.Use(s.gate)
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/accounts", s.handleList)
		r.Post("/account/create", s.handleCreate)
		r.Post("/account/switch", s.handleTabOp("switch", nil))
		r.Post("/account/navigate", s.handleTabOp("navigate", s.doNavigate))
		r.Post("/account/execute", s.handleExecute)
		r.Post("/account/load-cookies", s.handleTabOp("load-cookies", s.doLoadCookies))
		r.Post("/account/save-cookies", s.handleTabOp("save-cookies", s.doSaveCookies))
		r.Post("/account/refresh", s.handleTabOp("refresh", s.doRefresh))
		r.Post("/account/close", s.handleClose)
		r.Post("/account/set-file", s.handleTabOp("set-file", s.doSetFile))
	})
	s.server = httptest.NewServer(r)
	t.Cleanup(s.server.Close)
	return s
}

// URL 控制接口地址，形如 http://127.0.0.1:port/api
func (s *Shell) URL() string {
	return s.server.URL + "/api"
}

// Config 指向假壳的客户端配置
func (s *Shell) Config() config.ShellConfig {
	return config.ShellConfig{
		BaseURL:          s.URL(),
		CallTimeout:      config.Duration{Duration: 2 * time.Second},
		FileSetTimeout:   config.Duration{Duration: 2 * time.Second},
		MaxInflightCalls: config.DefaultMaxInflightCalls,
	}
}

// Calls 某端点被调用的次数，op 取路径最后一段，例如 create、execute、load-cookies
func (s *Shell) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// AddTab 预置一个标签页，返回 tabId
func (s *Shell) AddTab(label, cookieFile, url string, lastUsed time.Time) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.newTabLocked(label, "", url)
	t.CookieFile = cookieFile
	t.LastUsed = lastUsed
	return t.ID
}

// Tabs 当前全部标签页
func (s *Shell) Tabs() []TabState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TabState, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.tabs[id].TabState)
	}
	return out
}

// Tab 查询单个标签页
func (s *Shell) Tab(id string) (TabState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[id]
	if !ok {
		return TabState{}, false
	}
	return t.TabState, true
}

// SetURL 直接改写标签页地址，模拟用户操作或页面跳转
func (s *Shell) SetURL(tabID, url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tabs[tabID]; ok {
		t.URL = url
	}
}

// SetStale 加载该凭证文件的标签页都会被重定向到 loginURL
func (s *Shell) SetStale(cookieFile, loginURL string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale[cookieFile] = loginURL
}

// SetFresh 撤销 SetStale
func (s *Shell) SetFresh(cookieFile string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.stale, cookieFile)
}

// Hide 让选择器在所有标签页中都查不到
func (s *Shell) Hide(selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hidden[selector] = true
}

// Show 撤销 Hide
func (s *Shell) Show(selector string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.hidden, selector)
}

// SetCount 设置选择器匹配的元素数量
func (s *Shell) SetCount(selector string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[selector] = n
}

// SetText 设置元素的文本内容
func (s *Shell) SetText(selector, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[selector] = text
}

// Value 读取标签页中元素被填写的值
func (s *Shell) Value(tabID, selector string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tabs[tabID]; ok {
		return t.values[selector]
	}
	return ""
}

// SetNullHref 让 location.href 返回 null
func (s *Shell) SetNullHref(null bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nullHref = null
}

// SetFileUnsupported 让 set-file 返回 501 不支持
func (s *Shell) SetFileUnsupported(unsupported bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.noFileSet = unsupported
}

// SimulateFilePick 模拟用户在原生文件选择框中选中文件
func (s *Shell) SimulateFilePick(tabID, selector, path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tabs[tabID]; ok {
		t.files[selector] = path
	}
}

// FailNext 让某端点接下来 n 次调用返回 status 错误
func (s *Shell) FailNext(op string, n, status int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{remaining: n, status: status, message: message}
}

// SetDown 模拟壳进程退出：连接直接被断开
func (s *Shell) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// Restart 模拟壳重启：恢复服务并清空所有标签页
func (s *Shell) Restart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = false
	s.tabs = make(map[string]*tab)
	s.order = nil
}

// SetDelay 每次调用前等待 d，用于并发测试
func (s *Shell) SetDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = d
}

func (s *Shell) gate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		op := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

		s.mu.Lock()
		s.calls[op]++
		down, delay := s.down, s.delay
		f := s.faults[op]
		var injected *fault
		if f != nil && f.remaining > 0 {
			f.remaining--
			cp := *f
			injected = &cp
		}
		s.mu.Unlock()

		if down {
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if delay > 0 {
			time.Sleep(delay)
		}
		if injected != nil {
			writeJSON(w, injected.status, map[string]interface{}{"success": false, "error": injected.message})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Shell) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ok", "tabs": len(s.Tabs())})
}

func (s *Shell) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	data := make([]map[string]interface{}, 0, len(s.order))
	for _, id := range s.order {
		t := s.tabs[id]
		item := map[string]interface{}{
			"id":          t.ID,
			"accountName": t.Label,
			"cookieFile":  t.CookieFile,
			"currentUrl":  t.URL,
		}
		if !t.LastUsed.IsZero() {
			item["lastUsed"] = t.LastUsed.UnixMilli()
		}
		data = append(data, item)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": data})
}

func (s *Shell) handleCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		AccountName string `json:"accountName"`
		Platform    string `json:"platform"`
		InitialURL  string `json:"initialUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	s.mu.Lock()
	t := s.newTabLocked(body.AccountName, body.Platform, body.InitialURL)
	id := t.ID
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": map[string]string{"tabId": id}})
}

func (s *Shell) handleClose(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	_, exists := s.tabs[body["tabId"]]
	if exists {
		delete(s.tabs, body["tabId"])
		for i, id := range s.order {
			if id == body["tabId"] {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !exists {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "tab not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// handleTabOp 针对已有标签页的通用处理，do 在持锁状态下执行
func (s *Shell) handleTabOp(op string, do func(t *tab, body map[string]string) (int, string)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := decodeBody(w, r)
		if !ok {
			return
		}
		s.mu.Lock()
		t, exists := s.tabs[body["tabId"]]
		status, msg := http.StatusOK, ""
		if exists {
			t.LastUsed = time.Now()
			if do != nil {
				status, msg = do(t, body)
			}
		}
		s.mu.Unlock()

		switch {
		case !exists:
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": fmt.Sprintf("tab not found: %s (%s)", body["tabId"], op)})
		case status != http.StatusOK:
			writeJSON(w, status, map[string]interface{}{"success": false, "error": msg})
		default:
			writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
		}
	}
}

func (s *Shell) doNavigate(t *tab, body map[string]string) (int, string) {
	t.URL = body["url"]
	if login, ok := s.stale[t.CookieFile]; ok {
		t.URL = login
	}
	return http.StatusOK, ""
}

func (s *Shell) doLoadCookies(t *tab, body map[string]string) (int, string) {
	path := body["cookieFile"]
	if _, err := os.Stat(path); err != nil {
		return http.StatusInternalServerError, "cookie file not readable: " + err.Error()
	}
	t.CookieFile = path
	if login, ok := s.stale[path]; ok {
		t.URL = login
	}
	return http.StatusOK, ""
}

func (s *Shell) doSaveCookies(t *tab, body map[string]string) (int, string) {
	path := body["cookieFile"]
	payload, err := json.MarshalIndent(map[string]interface{}{
		"cookies": s.SavedCookies,
		"origins": []interface{}{},
	}, "", "  ")
	if err == nil {
		if err = os.MkdirAll(filepath.Dir(path), 0755); err == nil {
			err = os.WriteFile(path, payload, 0644)
		}
	}
	if err != nil {
		return http.StatusInternalServerError, err.Error()
	}
	t.CookieFile = path
	return http.StatusOK, ""
}

func (s *Shell) doRefresh(t *tab, _ map[string]string) (int, string) {
	if login, ok := s.stale[t.CookieFile]; ok {
		t.URL = login
	}
	return http.StatusOK, ""
}

func (s *Shell) doSetFile(t *tab, body map[string]string) (int, string) {
	if s.noFileSet {
		return http.StatusNotImplemented, "file input not supported for selector " + body["selector"]
	}
	if s.hidden[body["selector"]] {
		return http.StatusInternalServerError, "element not found: " + body["selector"]
	}
	t.files[body["selector"]] = body["filePath"]
	return http.StatusOK, ""
}

var (
	probePattern = regexp.MustCompile(`^\s*!!document\.querySelector\((.+)\)\s*;?\s*$`)
)

func (s *Shell) handleExecute(w http.ResponseWriter, r *http.Request) {
	body, ok := decodeBody(w, r)
	if !ok {
		return
	}
	tabID, script := body["tabId"], body["script"]

	if hook := s.OnExecute; hook != nil {
		s.mu.Lock()
		_, exists := s.tabs[tabID]
		s.mu.Unlock()
		if exists {
			if result, handled := hook(tabID, script); handled {
				writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": result})
				return
			}
		}
	}

	s.mu.Lock()
	t, exists := s.tabs[tabID]
	if !exists {
		s.mu.Unlock()
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"success": false, "error": "tab not found: " + tabID})
		return
	}
	t.LastUsed = time.Now()
	result, clicked, err := s.evalLocked(t, script)
	s.mu.Unlock()
	var clickText string
	if clicked != "" {
		if args, err := scriptArgs(strings.TrimSpace(script)); err == nil {
			clickText, _ = args["text"].(string)
		}
	}

	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": false, "error": err.Error()})
		return
	}
	if clicked != "" && s.OnClick != nil {
		s.OnClick(tabID, clicked, clickText)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": result})
}

// evalLocked 模拟脚本执行，返回结果与被点击的选择器
func (s *Shell) evalLocked(t *tab, script string) (interface{}, string, error) {
	trimmed := strings.TrimSpace(script)
	if trimmed == "location.href" {
		if s.nullHref {
			return nil, "", nil
		}
		return t.URL, "", nil
	}
	if m := probePattern.FindStringSubmatch(trimmed); m != nil {
		selector, err := strconv.Unquote(strings.TrimSpace(m[1]))
		if err != nil {
			return nil, "", fmt.Errorf("SyntaxError: %v", err)
		}
		return s.countLocked(selector) > 0, "", nil
	}

	opName, ok := recipe.ScriptOp(trimmed)
	if !ok {
		return nil, "", fmt.Errorf("ReferenceError: unsupported script in fake shell")
	}
	args, err := scriptArgs(trimmed)
	if err != nil {
		return nil, "", fmt.Errorf("SyntaxError: %v", err)
	}
	selector, _ := args["selector"].(string)

	switch opName {
	case "query_count":
		return s.countLocked(selector), "", nil
	case "fill":
		if s.countLocked(selector) == 0 {
			return nil, "", fmt.Errorf("Error: element not found: %s", selector)
		}
		text, _ := args["text"].(string)
		t.values[selector] = text
		return true, "", nil
	case "read_value":
		if s.countLocked(selector) == 0 {
			return nil, "", nil
		}
		if v, ok := t.values[selector]; ok {
			return v, "", nil
		}
		return s.texts[selector], "", nil
	case "click":
		if s.countLocked(selector) == 0 {
			return nil, "", fmt.Errorf("Error: element not found: %s", selector)
		}
		return true, selector, nil
	case "click_if_present":
		if s.countLocked(selector) == 0 {
			return true, "", nil
		}
		return true, selector, nil
	case "file_count":
		if _, ok := t.files[selector]; ok {
			return 1, "", nil
		}
		return 0, "", nil
	case "text_present":
		text, _ := args["text"].(string)
		if s.countLocked(selector) == 0 {
			return false, "", nil
		}
		return strings.Contains(t.values[selector], text) || strings.Contains(s.texts[selector], text), "", nil
	case "first_text":
		list, _ := args["selectors"].([]interface{})
		for _, item := range list {
			sel, _ := item.(string)
			if s.countLocked(sel) > 0 && strings.TrimSpace(s.texts[sel]) != "" {
				return strings.TrimSpace(s.texts[sel]), "", nil
			}
		}
		return "", "", nil
	}
	return nil, "", fmt.Errorf("ReferenceError: unknown op %s", opName)
}

func (s *Shell) countLocked(selector string) int {
	if selector == "" || s.hidden[selector] {
		return 0
	}
	if n, ok := s.counts[selector]; ok {
		return n
	}
	return 1
}

func (s *Shell) newTabLocked(label, platform, url string) *tab {
	s.nextID++
	t := &tab{
		TabState: TabState{
			ID:       fmt.Sprintf("tab-%d", s.nextID),
			Label:    label,
			Platform: platform,
			URL:      url,
			LastUsed: time.Now(),
		},
		values: make(map[string]string),
		files:  make(map[string]string),
	}
	s.tabs[t.ID] = t
	s.order = append(s.order, t.ID)
	return t
}

// scriptArgs 解析脚本中 const args = {...}; 的参数
func scriptArgs(script string) (map[string]interface{}, error) {
	const marker = "const args = "
	idx := strings.Index(script, marker)
	if idx < 0 {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(script[idx+len(marker):]))
	if err := dec.Decode(&args); err != nil {
		return nil, err
	}
	return args, nil
}

func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]string, bool) {
	body := make(map[string]string)
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"success": false, "error": err.Error()})
		return nil, false
	}
	return body, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
