// Package xiaohongshu 小红书创作服务平台上传配方
package xiaohongshu

import (
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
)

const (
	HomeURL     = "https://creator.xiaohongshu.com/new/home"
	LoginURL    = "https://creator.xiaohongshu.com/login"
	UploadURL   = "https://creator.xiaohongshu.com/publish/publish?from=menu&target=video"
	SuccessPath = "creator.xiaohongshu.com/publish/success"
)

// Recipe 小红书配方
func Recipe() *recipe.Recipe {
	cfg := DefaultConfig()
	cookies, _ := credential.GetCookieConfig(types.PlatformXiaohongshu)
	return &recipe.Recipe{
		Platform:         types.PlatformXiaohongshu,
		HomeURL:          HomeURL,
		LoginURL:         LoginURL,
		UploadURL:        UploadURL,
		LoginPatterns:    []string{"creator.xiaohongshu.com/login", "customer.xiaohongshu.com/login"},
		AuthSelector:     "div.user-info, span.name-box",
		AuthenticatedURL: "creator.xiaohongshu.com",
		RequiredCookies:  cookies.RequiredCookies(),
		TitleLimit:       cfg.TitleMaxLength,
		ScheduleLayout:   "2006-01-02 15:04",
		Selectors: map[string]string{
			"file_input":     "div.drag-over input.upload-input[type='file'], input[type='file']",
			"title":          "input.d-text[placeholder*='标题']",
			"description":    ".tiptap.ProseMirror",
			"upload_done":    "[class^='long-card'] div.reupload, div.preview-new video",
			"upload_error":   "div.progress-div div.fail, div[class*='upload-error']",
			"schedule_label": "label",
			"schedule_input": ".el-input__inner[placeholder='选择日期和时间']",
			"publish_button": "div.submit button, button.publishBtn",
			"publish_error":  "div.d-toast-error, div[class*='toast'] .error",
		},
		Build: buildUpload,
	}
}

func buildUpload(r *recipe.Recipe, req types.WorkflowRequest, now time.Time) []recipe.Step {
	cfg := DefaultConfig()
	sel := r.Selector
	title := r.FitTitle(req.Title)

	steps := []recipe.Step{
		{Name: "open_upload", Kind: recipe.StepNavigate, URL: r.UploadURL, Timeout: cfg.PageLoadTimeout},
		{Name: "wait_file_input", Kind: recipe.StepWaitSelector, Selector: sel("file_input"), MinCount: 1, Timeout: cfg.ElementWaitTimeout},
		{Name: "set_file", Kind: recipe.StepSetFile, Selector: sel("file_input"), FilePath: req.VideoPath, Stage: types.StateUploading},
		{Name: "wait_editor", Kind: recipe.StepWaitSelector, Selector: sel("title"), MinCount: 1, Timeout: cfg.ElementWaitTimeout},
		{Name: "fill_title", Kind: recipe.StepFillText, Selector: sel("title"), Text: title},
		{Name: "fill_tags", Kind: recipe.StepFillText, Selector: sel("description"), Text: recipe.TagLine(req.Tags), Stage: types.StateMetadataSet},
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

	publishText := "发布"
	if req.Scheduled(now) {
		at := r.FormatSchedule(*req.ScheduleAt)
		publishText = "定时发布"
		steps = append(steps,
			recipe.Step{Name: "schedule_toggle", Kind: recipe.StepClick, Selector: sel("schedule_label"), Text: "定时发布"},
			recipe.Step{Name: "schedule_time", Kind: recipe.StepFillText, Selector: sel("schedule_input"), Text: at},
			recipe.Step{Name: "schedule_confirm", Kind: recipe.StepObserveState, Script: recipe.TextPresentScript(sel("schedule_input"), at), Timeout: cfg.ElementWaitTimeout},
		)
	}

	return append(steps,
		recipe.Step{Name: "ready", Kind: recipe.StepWaitSelector, Selector: sel("publish_button"), MinCount: 1, Timeout: cfg.ElementWaitTimeout, Stage: types.StateReadyToPublish},
		recipe.Step{Name: "publish", Kind: recipe.StepClick, Selector: sel("publish_button"), Text: publishText, Stage: types.StatePublishing},
		recipe.Step{
			Name:         "wait_published",
			Kind:         recipe.StepWaitURL,
			URL:          SuccessPath,
			RejectScript: recipe.FirstTextScript(sel("publish_error")),
			Timeout:      cfg.SubmitCheckTimeout,
			Stage:        types.StateSubmitted,
		},
	)
}
