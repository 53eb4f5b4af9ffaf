package platform

import (
	"testing"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBookCoversAllPlatforms(t *testing.T) {
	book := DefaultBook()
	assert.Equal(t, types.AllPlatforms(), book.Platforms())
}

func TestLoginPredicates(t *testing.T) {
	book := DefaultBook()
	tests := []struct {
		platform types.Platform
		href     string
		want     bool
	}{
		{types.PlatformWeixinChannels, "https://channels.weixin.qq.com/login.html", true},
		{types.PlatformWeixinChannels, "https://channels.weixin.qq.com/platform/post/create", false},
		{types.PlatformDouyin, "https://sso.douyin.com/passport", true},
		{types.PlatformDouyin, "https://creator.douyin.com/creator-micro/home", false},
		{types.PlatformKuaishou, "https://passport.kuaishou.com/pc/account/login", true},
		{types.PlatformXiaohongshu, "https://creator.xiaohongshu.com/login", true},
		{types.PlatformTiktok, "https://www.tiktok.com/tiktokstudio/upload", false},
	}
	for _, tt := range tests {
		t.Run(tt.platform.String(), func(t *testing.T) {
			r, err := book.Get(tt.platform)
			require.NoError(t, err)
			assert.Equal(t, tt.want, r.IsLoginURL(tt.href), tt.href)
		})
	}
}

func TestUploadRecipesProgressInOrder(t *testing.T) {
	book := DefaultBook()
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.Local)
	later := now.Add(48 * time.Hour)

	for _, platform := range types.AllPlatforms() {
		for _, schedule := range []*time.Time{nil, &later} {
			name := platform.String()
			if schedule != nil {
				name += "_scheduled"
			}
			t.Run(name, func(t *testing.T) {
				r, err := book.Get(platform)
				require.NoError(t, err)
				steps, err := r.UploadSteps(types.WorkflowRequest{
					Platform:   platform,
					VideoPath:  "/v/a.mp4",
					Title:      "一个用于测试的相当长的视频标题，超过了大多数平台的限制",
					Tags:       []string{"x", "y"},
					ScheduleAt: schedule,
					Category:   "生活",
				}, now)
				require.NoError(t, err)

				var stages []types.UploadState
				readyIdx, publishIdx, scheduleIdx := -1, -1, -1
				for i, s := range steps {
					if s.Stage != "" {
						stages = append(stages, s.Stage)
					}
					switch {
					case s.Stage == types.StateReadyToPublish:
						readyIdx = i
					case s.Stage == types.StatePublishing:
						publishIdx = i
					case s.Name == "schedule_confirm":
						scheduleIdx = i
						assert.Equal(t, recipe.StepObserveState, s.Kind)
					}
				}
				assert.Equal(t, []types.UploadState{
					types.StateUploading, types.StateMetadataSet, types.StateEncoding,
					types.StateReadyToPublish, types.StatePublishing, types.StateSubmitted,
				}, stages)
				assert.Equal(t, types.StateSubmitted, steps[len(steps)-1].Stage)
				assert.Less(t, readyIdx, publishIdx)
				if schedule != nil {
					require.GreaterOrEqual(t, scheduleIdx, 0)
					assert.Less(t, scheduleIdx, publishIdx)
				} else {
					assert.Equal(t, -1, scheduleIdx)
				}
			})
		}
	}
}

