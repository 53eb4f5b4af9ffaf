package service

import (
	"fmt"
	"testing"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nowEntry(platform string, level types.LogLevel, message string) types.SimpleLog {
	now := time.Now()
	return types.SimpleLog{
		Date:     now.Format("2006/1/2"),
		Time:     now.Format("15:04:05"),
		Message:  message,
		Platform: platform,
		Level:    level,
	}
}

func TestLogServiceQuery(t *testing.T) {
	s := NewLogService(0)
	defer s.Close()

	s.Add(nowEntry("douyin", types.LogLevelInfo, "[+] 开始上传: a"))
	s.Add(nowEntry("kuaishou", types.LogLevelWarn, "[-] 凭证 x 已失效，需要重新登录"))
	s.Add(nowEntry("douyin", types.LogLevelError, "[-] 上传失败"))
	s.Add(nowEntry("", types.LogLevelInfo, "[+] 会话编排器已关闭"))

	all := s.GetAll(0)
	require.Len(t, all, 4)
	assert.Equal(t, "[+] 会话编排器已关闭", all[0].Message)

	byPlatform := s.Query(types.LogQuery{Platform: "douyin"})
	require.Len(t, byPlatform, 2)
	assert.Equal(t, "[-] 上传失败", byPlatform[0].Message)

	byLevel := s.Query(types.LogQuery{Level: types.LogLevelWarn})
	require.Len(t, byLevel, 1)
	assert.Equal(t, "kuaishou", byLevel[0].Platform)

	byKeyword := s.Query(types.LogQuery{Keyword: "上传"})
	assert.Len(t, byKeyword, 2)

	assert.Len(t, s.Query(types.LogQuery{Limit: 1}), 1)
	assert.Equal(t, []string{"douyin", "kuaishou"}, s.GetPlatforms())
}

func TestLogServiceLimit(t *testing.T) {
	s := NewLogService(5)
	defer s.Close()

	for i := 0; i < 8; i++ {
		s.Add(nowEntry("", types.LogLevelInfo, fmt.Sprintf("[-] 消息 %c", 'a'+i)))
	}
	assert.Equal(t, 5, s.Count())
	assert.Equal(t, "[-] 消息 h", s.GetAll(1)[0].Message)

	s.Clear()
	assert.Zero(t, s.Count())
}

func TestLogServiceMergesRepeats(t *testing.T) {
	s := NewLogService(0)

	for i := 0; i < 4; i++ {
		s.Add(nowEntry("xiaohongshu", types.LogLevelDebug, fmt.Sprintf("[-] 等待用户登录，已等待 %d 秒", i*2)))
	}
	s.Add(nowEntry("xiaohongshu", types.LogLevelSuccess, "[+] 登录成功"))
	assert.Equal(t, 1, s.GetPendingDedupCount())

	s.Close()
	assert.Zero(t, s.GetPendingDedupCount())

	logs := s.Query(types.LogQuery{Platform: "xiaohongshu"})
	require.Len(t, logs, 3)
	assert.Contains(t, logs[0].Message, "重复出现 4 次")
	assert.Equal(t, types.LogLevelDebug, logs[0].Level)
	assert.Equal(t, "[-] 等待用户登录，已等待 0 秒", logs[1].Message)
	assert.Equal(t, "[+] 登录成功", logs[2].Message)
}

func TestLogServiceDedupToggle(t *testing.T) {
	s := NewLogService(0)
	defer s.Close()

	s.Add(nowEntry("", types.LogLevelWarn, "[-] 加载Cookie失败，刷新后重试"))
	s.Add(nowEntry("", types.LogLevelWarn, "[-] 加载Cookie失败，刷新后重试"))
	assert.Zero(t, s.Count())

	s.SetDedupEnabled(false)
	assert.False(t, s.IsDedupEnabled())
	assert.Equal(t, 1, s.Count())

	s.Add(nowEntry("", types.LogLevelWarn, "[-] 加载Cookie失败，刷新后重试"))
	assert.Equal(t, 2, s.Count())

	s.SetDedupEnabled(true)
	assert.True(t, s.IsDedupEnabled())
}

func TestLogServiceCloseIdempotent(t *testing.T) {
	s := NewLogService(0)
	s.Close()
	s.Close()
}
