// Package douyin 抖音创作者中心上传配方
package douyin

import (
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
)

const (
	HomeURL    = "https://creator.douyin.com/creator-micro/home"
	LoginURL   = "https://creator.douyin.com/"
	UploadURL  = "https://creator.douyin.com/creator-micro/content/upload"
	ManagePath = "creator.douyin.com/creator-micro/content/manage"
)

// Recipe 抖音配方
func Recipe() *recipe.Recipe {
	cfg := DefaultConfig()
	cookies, _ := credential.GetCookieConfig(types.PlatformDouyin)
	return &recipe.Recipe{
		Platform:         types.PlatformDouyin,
		HomeURL:          HomeURL,
		LoginURL:         LoginURL,
		UploadURL:        UploadURL,
		LoginPatterns:    []string{"sso.douyin.com", "creator.douyin.com/login"},
		AuthSelector:     "#header-avatar, div[class*='avatar']",
		AuthenticatedURL: "creator.douyin.com/creator-micro",
		RequiredCookies:  cookies.RequiredCookies(),
		TitleLimit:       cfg.TitleMaxLength,
		ScheduleLayout:   "2006-01-02 15:04",
		Selectors: map[string]string{
			"file_input":     "div[class^='container'] input[type='file'], input[type='file']",
			"title":          "input[placeholder*='填写作品标题']",
			"description":    ".zone-container",
			"upload_done":    "[class^='long-card'] div[class*='reupload'], div[class*='video-info']",
			"upload_error":   "div[class*='upload-fail'], div[class*='error-text']",
			"schedule_label": "label[class*='radio']",
			"schedule_input": "input[format='yyyy-MM-dd HH:mm']",
			"publish_button": "button[class*='primary']",
			"publish_error":  "div[class*='toast-error'], div.semi-toast-error",
		},
		Build: buildUpload,
	}
}

func buildUpload(r *recipe.Recipe, req types.WorkflowRequest, now time.Time) []recipe.Step {
	cfg := DefaultConfig()
	title := r.FitTitle(req.Title)
	sel := r.Selector

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

	if req.Scheduled(now) {
		at := r.FormatSchedule(*req.ScheduleAt)
		steps = append(steps,
			recipe.Step{Name: "schedule_toggle", Kind: recipe.StepClick, Selector: sel("schedule_label"), Text: "定时发布"},
			recipe.Step{Name: "schedule_time", Kind: recipe.StepFillText, Selector: sel("schedule_input"), Text: at},
			recipe.Step{Name: "schedule_confirm", Kind: recipe.StepObserveState, Script: recipe.TextPresentScript(sel("schedule_input"), at), Timeout: cfg.ElementWaitTimeout},
		)
	}

	return append(steps,
		recipe.Step{Name: "ready", Kind: recipe.StepWaitSelector, Selector: sel("publish_button"), MinCount: 1, Timeout: cfg.ElementWaitTimeout, Stage: types.StateReadyToPublish},
		recipe.Step{Name: "publish", Kind: recipe.StepClick, Selector: sel("publish_button"), Text: "发布", Stage: types.StatePublishing},
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
