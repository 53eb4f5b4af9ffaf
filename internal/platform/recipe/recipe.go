// Package recipe 平台上传流程的声明式描述
//
// 每个平台提供一份 Recipe：首页、登录页、登录页判定规则、登录后可见的元素，
// 以及根据上传请求生成的步骤序列。步骤的执行由 runner 负责。
package recipe

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/types"
	"github.com/ew384/social-auto-upload-sub000/internal/utils"
)

// StepKind 步骤类型
type StepKind string

const (
	StepNavigate     StepKind = "navigate"
	StepSetFile      StepKind = "set_file"
	StepWaitSelector StepKind = "wait_selector"
	StepFillText     StepKind = "fill_text"
	StepClick        StepKind = "click"
	StepWaitURL      StepKind = "wait_url"
	StepObserveState StepKind = "observe_state"
)

// 各类步骤的默认超时
const (
	NavigateTimeout     = 15 * time.Second
	SetFileTimeout      = 60 * time.Second
	FillTextTimeout     = 10 * time.Second
	ClickTimeout        = 10 * time.Second
	WaitSelectorTimeout = 30 * time.Second
	MaxWaitTimeout      = 600 * time.Second
	WaitURLTimeout      = 60 * time.Second
	ObserveTimeout      = 30 * time.Second
)

// Step 单个步骤
type Step struct {
	Name     string
	Kind     StepKind
	URL      string // navigate 的目标地址，或 wait_url 等待的子串
	Selector string
	Text     string // fill_text 的内容；click 时按元素文本过滤
	FilePath string
	MinCount int
	Script   string // observe_state 的判定脚本，返回真值即成功
	// RejectScript 等待期间轮询，返回非空字符串表示平台给出了错误提示
	RejectScript string
	Timeout      time.Duration
	// Stage 步骤成功后进入的上传状态，为空表示不改变状态
	Stage types.UploadState
}

// EffectiveTimeout 步骤超时，未设置时取该类步骤的默认值，等待类步骤不超过 600 秒
func (s Step) EffectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		if (s.Kind == StepWaitSelector || s.Kind == StepWaitURL || s.Kind == StepObserveState) && s.Timeout > MaxWaitTimeout {
			return MaxWaitTimeout
		}
		return s.Timeout
	}
	switch s.Kind {
	case StepNavigate:
		return NavigateTimeout
	case StepSetFile:
		return SetFileTimeout
	case StepFillText:
		return FillTextTimeout
	case StepClick:
		return ClickTimeout
	case StepWaitSelector:
		return WaitSelectorTimeout
	case StepWaitURL:
		return WaitURLTimeout
	case StepObserveState:
		return ObserveTimeout
	}
	return ClickTimeout
}

// Validate 检查步骤参数是否齐全
func (s Step) Validate() error {
	missing := func(field string) error {
		return fmt.Errorf("step %s (%s): %s is required", s.Name, s.Kind, field)
	}
	if s.Name == "" {
		return fmt.Errorf("step of kind %s has no name", s.Kind)
	}
	switch s.Kind {
	case StepNavigate, StepWaitURL:
		if s.URL == "" {
			return missing("url")
		}
	case StepSetFile:
		if s.Selector == "" {
			return missing("selector")
		}
		if s.FilePath == "" {
			return missing("file path")
		}
	case StepWaitSelector, StepClick:
		if s.Selector == "" {
			return missing("selector")
		}
	case StepFillText:
		if s.Selector == "" {
			return missing("selector")
		}
	case StepObserveState:
		if s.Script == "" {
			return missing("script")
		}
	default:
		return fmt.Errorf("step %s: unknown kind %q", s.Name, s.Kind)
	}
	return nil
}

// UploadBuilder 根据请求生成上传步骤
type UploadBuilder func(r *Recipe, req types.WorkflowRequest, now time.Time) []Step

// Recipe 平台配方
type Recipe struct {
	Platform  types.Platform
	HomeURL   string // 登录后停留的页面，校验与重新加载时使用
	LoginURL  string
	UploadURL string
	// LoginPatterns 平台特有的登录页地址片段，通用片段见 genericLoginPatterns
	LoginPatterns []string
	// AuthSelector 登录后才会出现的元素，为空则只看地址
	AuthSelector string
	// AuthenticatedURL 交互式登录成功后地址应包含的片段，为空则只要求离开登录页
	AuthenticatedURL string
	RequiredCookies  []string
	TitleLimit       int
	// ScheduleLayout 定时发布输入框使用的时间格式
	ScheduleLayout string
	// Selectors 上传流程使用的选择器，可被覆盖文件替换
	Selectors map[string]string
	Build     UploadBuilder
}

var genericLoginPatterns = []string{"login", "signin", "sign-in", "passport"}

// IsLoginURL 当前地址是否为登录页；空地址与空白页按未登录处理
func (r *Recipe) IsLoginURL(href string) bool {
	h := strings.ToLower(strings.TrimSpace(href))
	if IsBlankURL(h) {
		return true
	}
	for _, p := range genericLoginPatterns {
		if strings.Contains(h, p) {
			return true
		}
	}
	for _, p := range r.LoginPatterns {
		if p != "" && strings.Contains(h, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// IsBlankURL 空地址、null 或 about:blank
func IsBlankURL(href string) bool {
	h := strings.ToLower(strings.TrimSpace(href))
	return h == "" || h == "null" || h == "undefined" || strings.HasPrefix(h, "about:blank")
}

// IsAuthenticatedURL 交互式登录是否已经完成
func (r *Recipe) IsAuthenticatedURL(href string) bool {
	if r.IsLoginURL(href) {
		return false
	}
	if r.AuthenticatedURL == "" {
		return true
	}
	return strings.Contains(href, r.AuthenticatedURL)
}

// Selector 取选择器，未配置时返回空串
func (r *Recipe) Selector(name string) string {
	return r.Selectors[name]
}

// Title 按平台限制截断标题
func (r *Recipe) Title(title string) (string, bool) {
	return types.TruncateRunes(strings.TrimSpace(title), r.TitleLimit)
}

// FitTitle 与 Title 相同，截断时记录警告
func (r *Recipe) FitTitle(title string) string {
	out, truncated := r.Title(title)
	if truncated {
		utils.WarnWithPlatform(r.Platform.String(), fmt.Sprintf("[-] 标题超过 %d 字，已截断为: %s", r.TitleLimit, out))
	}
	return out
}

// UploadSteps 生成上传步骤并检查参数
func (r *Recipe) UploadSteps(req types.WorkflowRequest, now time.Time) ([]Step, error) {
	if r.Build == nil {
		return nil, fmt.Errorf("recipe %s has no upload builder", r.Platform)
	}
	steps := r.Build(r, req, now)
	if len(steps) == 0 {
		return nil, fmt.Errorf("recipe %s produced no steps", r.Platform)
	}
	for _, s := range steps {
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("recipe %s: %w", r.Platform, err)
		}
	}
	return steps, nil
}

// FormatSchedule 按平台格式输出定时发布时间
func (r *Recipe) FormatSchedule(at time.Time) string {
	layout := r.ScheduleLayout
	if layout == "" {
		layout = "2006-01-02 15:04"
	}
	return at.In(time.Local).Format(layout)
}

// Clone 深拷贝，覆盖配置时不影响内置配方
func (r *Recipe) Clone() *Recipe {
	cp := *r
	cp.LoginPatterns = append([]string(nil), r.LoginPatterns...)
	cp.RequiredCookies = append([]string(nil), r.RequiredCookies...)
	cp.Selectors = make(map[string]string, len(r.Selectors))
	for k, v := range r.Selectors {
		cp.Selectors[k] = v
	}
	return &cp
}

// Book 平台到配方的映射，可并发读取
type Book struct {
	mu      sync.RWMutex
	recipes map[types.Platform]*Recipe
}

// NewBook 创建配方表
func NewBook(recipes ...*Recipe) *Book {
	b := &Book{recipes: make(map[types.Platform]*Recipe)}
	for _, r := range recipes {
		b.Register(r)
	}
	return b
}

// Register 注册或替换某平台的配方
func (b *Book) Register(r *Recipe) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.recipes[r.Platform] = r
}

// Get 取平台配方
func (b *Book) Get(platform types.Platform) (*Recipe, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.recipes[platform]
	if !ok {
		return nil, types.NewInvalidRequest("no recipe for platform %s", platform)
	}
	return r, nil
}

// Platforms 已注册的平台
func (b *Book) Platforms() []types.Platform {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]types.Platform, 0, len(b.recipes))
	for p := range b.recipes {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// TagLine 把标签拼成 "#a #b"，已带 # 的不重复添加
func TagLine(tags []string) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t != "" {
			parts = append(parts, "#"+t)
		}
	}
	return strings.Join(parts, " ")
}
