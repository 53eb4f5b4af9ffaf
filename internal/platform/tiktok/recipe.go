// Package tiktok TikTok Studio 上传配方
package tiktok

import (
	"strings"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/credential"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/types"
)

const (
	HomeURL     = "https://www.tiktok.com/tiktokstudio"
	LoginURL    = "https://www.tiktok.com/login?lang=en"
	UploadURL   = "https://www.tiktok.com/tiktokstudio/upload"
	ContentPath = "tiktokstudio/content"
)

// Recipe TikTok 配方
func Recipe() *recipe.Recipe {
	cfg := DefaultConfig()
	cookies, _ := credential.GetCookieConfig(types.PlatformTiktok)
	return &recipe.Recipe{
		Platform:         types.PlatformTiktok,
		HomeURL:          HomeURL,
		LoginURL:         LoginURL,
		UploadURL:        UploadURL,
		LoginPatterns:    []string{"tiktok.com/login", "tiktok.com/signup"},
		AuthSelector:     "[data-e2e='profile-icon'], div[class*='avatar']",
		AuthenticatedURL: "tiktok.com",
		RequiredCookies:  cookies.RequiredCookies(),
		TitleLimit:       cfg.TitleMaxLength,
		ScheduleLayout:   "2006-01-02 15:04",
		Selectors: map[string]string{
			"file_input":      "input[type='file'][accept*='video'], input[type='file']",
			"editor":          "div.public-DraftEditor-content, div[contenteditable='true']",
			"upload_done":     "div[class*='uploaded'], div.info-progress.success",
			"upload_error":    "div[class*='upload-error']",
			"schedule_button": "[aria-label='Schedule'], input[name='postSchedule']",
			"schedule_input":  "div.scheduled-picker input",
			"allow_button":    "div.TUXButton-content, button",
			"publish_button":  "div.btn-post > button, button[data-e2e='post_video_button']",
			"publish_error":   "div[class*='TUXTopToast-error']",
		},
		Build: buildUpload,
	}
}

func buildUpload(r *recipe.Recipe, req types.WorkflowRequest, now time.Time) []recipe.Step {
	cfg := DefaultConfig()
	sel := r.Selector
	caption := r.FitTitle(strings.TrimSpace(req.Title + " " + recipe.TagLine(req.Tags)))

	steps := []recipe.Step{
		{Name: "open_upload", Kind: recipe.StepNavigate, URL: r.UploadURL, Timeout: cfg.PageLoadTimeout},
		{Name: "wait_file_input", Kind: recipe.StepWaitSelector, Selector: sel("file_input"), MinCount: 1, Timeout: cfg.ElementWaitTimeout},
		{Name: "set_file", Kind: recipe.StepSetFile, Selector: sel("file_input"), FilePath: req.VideoPath, Stage: types.StateUploading},
		{Name: "wait_editor", Kind: recipe.StepWaitSelector, Selector: sel("editor"), MinCount: 1, Timeout: cfg.ElementWaitTimeout},
		{Name: "fill_caption", Kind: recipe.StepFillText, Selector: sel("editor"), Text: caption, Stage: types.StateMetadataSet},
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
			recipe.Step{Name: "schedule_toggle", Kind: recipe.StepClick, Selector: sel("schedule_button")},
			recipe.Step{Name: "schedule_allow", Kind: recipe.StepObserveState, Script: recipe.ClickIfPresentScript(sel("allow_button"), "Allow"), Timeout: cfg.ElementWaitTimeout},
			recipe.Step{Name: "schedule_time", Kind: recipe.StepFillText, Selector: sel("schedule_input"), Text: at},
			recipe.Step{Name: "schedule_confirm", Kind: recipe.StepObserveState, Script: recipe.TextPresentScript(sel("schedule_input"), at), Timeout: cfg.ElementWaitTimeout},
		)
	}

	publishText := "Post"
	if req.Scheduled(now) {
		publishText = "Schedule"
	}
	return append(steps,
		recipe.Step{Name: "ready", Kind: recipe.StepWaitSelector, Selector: sel("publish_button"), MinCount: 1, Timeout: cfg.ElementWaitTimeout, Stage: types.StateReadyToPublish},
		recipe.Step{Name: "publish", Kind: recipe.StepClick, Selector: sel("publish_button"), Text: publishText, Stage: types.StatePublishing},
		recipe.Step{
			Name:         "wait_published",
			Kind:         recipe.StepWaitURL,
			URL:          ContentPath,
			RejectScript: recipe.FirstTextScript(sel("publish_error")),
			Timeout:      cfg.SubmitCheckTimeout,
			Stage:        types.StateSubmitted,
		},
	)
}
