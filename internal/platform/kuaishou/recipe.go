// Package kuaishou 快手创作者服务平台上传配方
package kuaishou

import (
	"strings"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
)

const (
	HomeURL    = "https://cp.kuaishou.com/profile"
	LoginURL   = "https://passport.kuaishou.com/pc/account/login/?sid=kuaishou.web.cp.api&callback=https%3A%2F%2Fcp.kuaishou.com%2Frest%2Finfra%2Fsts%3FfollowUrl%3Dhttps%253A%252F%252Fcp.kuaishou.com%252Fprofile"
	UploadURL  = "https://cp.kuaishou.com/article/publish/video"
	ManagePath = "cp.kuaishou.com/article/manage/video"
)

// Recipe 快手配方
func Recipe() *recipe.Recipe {
	cfg := DefaultConfig()
	cookies, _ := credential.GetCookieConfig(types.PlatformKuaishou)
	return &recipe.Recipe{
		Platform:         types.PlatformKuaishou,
		HomeURL:          HomeURL,
		LoginURL:         LoginURL,
		UploadURL:        UploadURL,
		LoginPatterns:    []string{"passport.kuaishou.com", "cp.kuaishou.com/account"},
		AuthSelector:     "div.header-info-card, img[class*='avatar']",
		AuthenticatedURL: "cp.kuaishou.com",
		RequiredCookies:  cookies.RequiredCookies(),
		TitleLimit:       cfg.TitleMaxLength,
		ScheduleLayout:   "2006-01-02 15:04:05",
		Selectors: map[string]string{
			"file_input":     "input[type='file'][accept*='video'], input[type='file']",
			"guide_button":   "button[type='button']",
			"description":    "div[contenteditable='true'], textarea[placeholder*='描述']",
			"upload_done":    "[class*='success'] video, div[class*='preview'] video",
			"upload_error":   "div[class*='upload-fail'], div[class*='error-tip']",
			"schedule_radio": "label.ant-radio-wrapper",
			"schedule_input": "input[placeholder='选择日期和时间']",
			"publish_button": "div[class*='button-primary'], button[class*='primary']",
			"confirm_button": "div[class*='modal'] button[class*='primary']",
			"publish_error":  "div.ant-message-error, div[class*='error-message']",
		},
		Build: buildUpload,
	}
}

func buildUpload(r *recipe.Recipe, req types.WorkflowRequest, now time.Time) []recipe.Step {
	cfg := DefaultConfig()
	sel := r.Selector
	title := r.FitTitle(req.Title)
	description := strings.TrimSpace(title + " " + recipe.TagLine(req.Tags))

	steps := []recipe.Step{
		{Name: "open_upload", Kind: recipe.StepNavigate, URL: r.UploadURL, Timeout: cfg.PageLoadTimeout},
		{Name: "wait_file_input", Kind: recipe.StepWaitSelector, Selector: sel("file_input"), MinCount: 1, Timeout: cfg.ElementWaitTimeout},
		{Name: "set_file", Kind: recipe.StepSetFile, Selector: sel("file_input"), FilePath: req.VideoPath, Stage: types.StateUploading},
		{Name: "wait_editor", Kind: recipe.StepWaitSelector, Selector: sel("description"), MinCount: 1, Timeout: cfg.ElementWaitTimeout},
		{Name: "fill_description", Kind: recipe.StepFillText, Selector: sel("description"), Text: description, Stage: types.StateMetadataSet},
		{
			Name:         "wait_upload_done",
			Kind:         recipe.StepWaitSelector,
			Selector:     sel("upload_done"),
			MinCount:     1,
			RejectScript: recipe.FirstTextScript(sel("upload_error")),
			Timeout:      cfg.UploadTimeout,
			Stage:        types.StateEncoding,
		},
	}

	if req.Scheduled(now) {
		at := r.FormatSchedule(*req.ScheduleAt)
		steps = append(steps,
			recipe.Step{Name: "schedule_toggle", Kind: recipe.StepClick, Selector: sel("schedule_radio"), Text: "定时发布"},
			recipe.Step{Name: "schedule_time", Kind: recipe.StepFillText, Selector: sel("schedule_input"), Text: at},
			recipe.Step{Name: "schedule_confirm", Kind: recipe.StepObserveState, Script: recipe.TextPresentScript(sel("schedule_input"), at), Timeout: cfg.ElementWaitTimeout},
		)
	}

	return append(steps,
		recipe.Step{Name: "ready", Kind: recipe.StepWaitSelector, Selector: sel("publish_button"), MinCount: 1, Timeout: cfg.ElementWaitTimeout, Stage: types.StateReadyToPublish},
		recipe.Step{Name: "publish", Kind: recipe.StepClick, Selector: sel("publish_button"), Text: "发布", Stage: types.StatePublishing},
		recipe.Step{Name: "confirm_publish", Kind: recipe.StepObserveState, Script: recipe.ClickIfPresentScript(sel("confirm_button"), "确认发布"), Timeout: cfg.ElementWaitTimeout},
		recipe.Step{
			Name:         "wait_published",
			Kind:         recipe.StepWaitURL,
			URL:          ManagePath,
			RejectScript: recipe.FirstTextScript(sel("publish_error")),
			Timeout:      cfg.SubmitCheckTimeout,
			Stage:        types.StateSubmitted,
		},
	)
}

