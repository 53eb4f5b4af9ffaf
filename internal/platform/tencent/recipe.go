// Package tencent 微信视频号助手上传配方
package tencent

import (
	"fmt"
	"strings"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
	"github.com/ew384/social-auto-upload-sub000/internal/utils"
)

const (
	HomeURL   = "https://channels.weixin.qq.com/platform"
	LoginURL  = "https://channels.weixin.qq.com/login.html"
	UploadURL = "https://channels.weixin.qq.com/platform/post/create"
	ListPath  = "channels.weixin.qq.com/platform/post/list"
)

// Recipe 视频号配方
func Recipe() *recipe.Recipe {
	cfg := DefaultConfig()
	cookies, _ := credential.GetCookieConfig(types.PlatformWeixinChannels)
	return &recipe.Recipe{
		Platform:         types.PlatformWeixinChannels,
		HomeURL:          HomeURL,
		LoginURL:         LoginURL,
		UploadURL:        UploadURL,
		LoginPatterns:    []string{"channels.weixin.qq.com/login"},
		AuthSelector:     "div.finder-nickname, div.account-info",
		AuthenticatedURL: "channels.weixin.qq.com/platform",
		RequiredCookies:  cookies.RequiredCookies(),
		TitleLimit:       cfg.ShortTitleMaxLength,
		ScheduleLayout:   "2006-01-02 15:04",
		Selectors: map[string]string{
			// 上传框在 wujie 微前端的 shadow root 中，驱动层赋值可能不可用
			"file_input":      "input[type='file'][accept*='video']",
			"description":     "[contenteditable][data-placeholder='添加描述']",
			"short_title":     "input[placeholder*='字数建议6-16个字符']",
			"upload_done":     "div.media-status-content div.tag-inner",
			"upload_error":    "div.status-msg.error",
			"original_label":  "div.label span",
			"original_option": "ul.weui-desktop-dropdown__list li.weui-desktop-dropdown__list-ele",
			"schedule_label":  "label",
			"schedule_input":  "input.weui-desktop-form-input__input[placeholder='请选择发表时间']",
			"publish_button":  "button.weui-desktop-btn_primary",
			"publish_error":   "div.weui-desktop-toast__content",
		},
		Build: buildUpload,
	}
}

// shortTitle 短标题只保留中英文、数字和少量标点，不足最小长度时补空格
func shortTitle(title string, max, min int) (string, bool) {
	allowed := "《》“”:+?%°"
	var b strings.Builder
	for _, r := range title {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= 0x4e00 && r <= 0x9fff:
			b.WriteRune(r)
		case strings.ContainsRune(allowed, r):
			b.WriteRune(r)
		case r == ',' || r == ' ':
			b.WriteRune(' ')
		}
	}
	out, truncated := types.TruncateRunes(b.String(), max)
	for len([]rune(out)) < min {
		out += " "
	}
	return out, truncated
}

func buildUpload(r *recipe.Recipe, req types.WorkflowRequest, now time.Time) []recipe.Step {
	cfg := DefaultConfig()
	sel := r.Selector
	description := strings.TrimSpace(req.Title + " " + recipe.TagLine(req.Tags))
	short, truncated := shortTitle(req.Title, r.TitleLimit, cfg.ShortTitleMinLength)
	if truncated {
		utils.WarnWithPlatform(r.Platform.String(), fmt.Sprintf("[-] 短标题超过 %d 字，已截断为: %s", r.TitleLimit, short))
	}

	steps := []recipe.Step{
		{Name: "open_upload", Kind: recipe.StepNavigate, URL: r.UploadURL, Timeout: cfg.PageLoadTimeout},
		{Name: "wait_file_input", Kind: recipe.StepWaitSelector, Selector: sel("file_input"), MinCount: 1, Timeout: cfg.ElementWaitTimeout},
		{Name: "set_file", Kind: recipe.StepSetFile, Selector: sel("file_input"), FilePath: req.VideoPath, Stage: types.StateUploading},
		{Name: "fill_description", Kind: recipe.StepFillText, Selector: sel("description"), Text: description},
		{Name: "fill_short_title", Kind: recipe.StepFillText, Selector: sel("short_title"), Text: short, Stage: types.StateMetadataSet},
	}

	if req.Category != "" {
		steps = append(steps,
			recipe.Step{Name: "declare_original", Kind: recipe.StepClick, Selector: sel("original_label"), Text: "声明原创"},
			recipe.Step{Name: "original_category", Kind: recipe.StepClick, Selector: sel("original_option"), Text: req.Category},
		)
	}

	steps = append(steps, recipe.Step{
		Name:         "wait_upload_done",
		Kind:         recipe.StepWaitSelector,
		Selector:     sel("upload_done"),
		MinCount:     1,
		RejectScript: recipe.FirstTextScript(sel("upload_error")),
		Timeout:      cfg.UploadTimeout,
		Stage:        types.StateEncoding,
	})

	if req.Scheduled(now) {
		at := r.FormatSchedule(*req.ScheduleAt)
		steps = append(steps,
			recipe.Step{Name: "schedule_toggle", Kind: recipe.StepClick, Selector: sel("schedule_label"), Text: "定时"},
			recipe.Step{Name: "schedule_time", Kind: recipe.StepFillText, Selector: sel("schedule_input"), Text: at},
			recipe.Step{Name: "schedule_confirm", Kind: recipe.StepObserveState, Script: recipe.TextPresentScript(sel("schedule_input"), at), Timeout: cfg.ElementWaitTimeout},
		)
	}

	return append(steps,
		recipe.Step{Name: "ready", Kind: recipe.StepWaitSelector, Selector: sel("publish_button"), MinCount: 1, Timeout: cfg.ElementWaitTimeout, Stage: types.StateReadyToPublish},
		recipe.Step{Name: "publish", Kind: recipe.StepClick, Selector: sel("publish_button"), Text: "发表", Stage: types.StatePublishing},
		recipe.Step{
			Name:         "wait_published",
			Kind:         recipe.StepWaitURL,
			URL:          ListPath,
			RejectScript: recipe.FirstTextScript(sel("publish_error")),
			Timeout:      cfg.SubmitCheckTimeout,
			Stage:        types.StateSubmitted,
		},
	)
}
