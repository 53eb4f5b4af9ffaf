package service

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/types"
)

// MergeRule 日志归并规则
type MergeRule struct {
	Pattern    *regexp.Regexp // 匹配模式
	TimeWindow time.Duration  // 相邻两条的最大间隔
	MaxCount   int            // 最大归并数
	ShowFirst  bool           // 是否显示第一条
	ShowLast   bool           // 是否显示最后一条
}

// MergedLog 归并后的日志
type MergedLog struct {
	types.SimpleLog
	IsMerged    bool   `json:"isMerged"`    // 是否是归并日志
	RepeatCount int    `json:"repeatCount"` // 重复次数
	StartTime   string `json:"startTime"`   // 开始时间
	EndTime     string `json:"endTime"`     // 结束时间
}

type logGroup struct {
	rule     *MergeRule
	firstLog types.SimpleLog
	lastLog  types.SimpleLog
	count    int
	lastTime time.Time
}

// LogDeduplicator 日志去重归并器
//
// 登录轮询、Cookie 重新加载和壳调用重试在短时间内会产生大量相同日志，归并后只保留首条和次数。
type LogDeduplicator struct {
	rules  []MergeRule
	groups map[string]*logGroup
	order  []string
	mutex  sync.Mutex
}

// NewLogDeduplicator 创建日志归并器
func NewLogDeduplicator() *LogDeduplicator {
	return &LogDeduplicator{
		rules:  defaultRules(),
		groups: make(map[string]*logGroup),
	}
}

func defaultRules() []MergeRule {
	return []MergeRule{
		// 登录页轮询
		{
			Pattern:    regexp.MustCompile(`等待用户登录`),
			TimeWindow: 10 * time.Second,
			MaxCount:   150,
			ShowFirst:  true,
		},
		// 登录态失效后的重新加载
		{
			Pattern:    regexp.MustCompile(`登录态失效|重新加载Cookie`),
			TimeWindow: 30 * time.Second,
			MaxCount:   20,
			ShowFirst:  true,
			ShowLast:   true,
		},
		// 壳不可达
		{
			Pattern:    regexp.MustCompile(`(?i)shell unreachable|connection refused|壳不可达`),
			TimeWindow: 30 * time.Second,
			MaxCount:   100,
			ShowFirst:  true,
		},
		// 重试类
		{
			Pattern:    regexp.MustCompile(`(?i)重试|retry`),
			TimeWindow: 15 * time.Second,
			MaxCount:   30,
		},
	}
}

// extractLevel 从消息前缀推断级别，条目未带级别时使用
func extractLevel(message string) types.LogLevel {
	message = strings.ToLower(message)
	switch {
	case strings.Contains(message, "[error]"):
		return types.LogLevelError
	case strings.Contains(message, "[warn]"):
		return types.LogLevelWarn
	case strings.Contains(message, "[debug]"):
		return types.LogLevelDebug
	case strings.Contains(message, "[success]"):
		return types.LogLevelSuccess
	default:
		return types.LogLevelInfo
	}
}

func levelOf(log types.SimpleLog) types.LogLevel {
	if log.Level != "" {
		return log.Level
	}
	return extractLevel(log.Message)
}

var variablePart = regexp.MustCompile(`\d{2}:\d{2}:\d{2}|第\d+(/\d+)?次|\d+\s*(次|秒|s)`)

// normalizeMessage 去掉时间、次数等变化部分
func normalizeMessage(message string) string {
	return variablePart.ReplaceAllString(message, "")
}

func (d *LogDeduplicator) matchRule(message string) *MergeRule {
	for i := range d.rules {
		if d.rules[i].Pattern.MatchString(message) {
			return &d.rules[i]
		}
	}
	return nil
}

func groupKey(level types.LogLevel, platform, normalized string) string {
	if platform != "" {
		return string(level) + "|" + platform + "|" + normalized
	}
	return string(level) + "|" + normalized
}

// Process 处理单条日志，返回需要立即输出的日志
func (d *LogDeduplicator) Process(log types.SimpleLog) []MergedLog {
	rule := d.matchRule(log.Message)
	if rule == nil {
		return []MergedLog{{SimpleLog: log}}
	}

	logTime, err := time.ParseInLocation("2006/1/2 15:04:05", log.Date+" "+log.Time, time.Local)
	if err != nil {
		logTime = time.Now()
	}
	key := groupKey(levelOf(log), log.Platform, normalizeMessage(log.Message))

	d.mutex.Lock()
	defer d.mutex.Unlock()

	if group, ok := d.groups[key]; ok {
		if logTime.Sub(group.lastTime) <= rule.TimeWindow && group.count < rule.MaxCount {
			group.count++
			group.lastTime = logTime
			group.lastLog = log
			return nil
		}
		result := d.flushGroup(key)
		d.createGroup(key, log, logTime, rule)
		return result
	}

	d.createGroup(key, log, logTime, rule)
	return nil
}

func (d *LogDeduplicator) createGroup(key string, log types.SimpleLog, logTime time.Time, rule *MergeRule) {
	d.groups[key] = &logGroup{
		rule:     rule,
		firstLog: log,
		lastLog:  log,
		count:    1,
		lastTime: logTime,
	}
	d.order = append(d.order, key)
}

func (d *LogDeduplicator) flushGroup(key string) []MergedLog {
	group, ok := d.groups[key]
	if !ok {
		return nil
	}
	delete(d.groups, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}

	rule := group.rule
	if group.count == 1 {
		return []MergedLog{{SimpleLog: group.firstLog, RepeatCount: 1}}
	}

	var results []MergedLog
	summary := MergedLog{
		SimpleLog:   group.firstLog,
		IsMerged:    true,
		RepeatCount: group.count,
		StartTime:   group.firstLog.Time,
		EndTime:     group.lastLog.Time,
	}
	if rule.ShowFirst {
		results = append(results, MergedLog{SimpleLog: group.firstLog, RepeatCount: 1})
		summary.Message = fmt.Sprintf("  ↳ 该消息重复出现 %d 次 (%s ~ %s)", group.count, group.firstLog.Time, group.lastLog.Time)
	} else {
		summary.Message = fmt.Sprintf("%s (×%d)", group.firstLog.Message, group.count)
	}
	results = append(results, summary)

	if rule.ShowLast {
		results = append(results, MergedLog{SimpleLog: group.lastLog, RepeatCount: 1})
	}
	return results
}

// FlushAll 按首次出现顺序输出全部待归并日志
func (d *LogDeduplicator) FlushAll() []MergedLog {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var results []MergedLog
	for len(d.order) > 0 {
		results = append(results, d.flushGroup(d.order[0])...)
	}
	return results
}

// FlushExpired 输出在 now 之前已超出时间窗口的归并组
func (d *LogDeduplicator) FlushExpired(now time.Time) []MergedLog {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var expired []string
	for _, key := range d.order {
		group := d.groups[key]
		if now.Sub(group.lastTime) > group.rule.TimeWindow {
			expired = append(expired, key)
		}
	}
	var results []MergedLog
	for _, key := range expired {
		results = append(results, d.flushGroup(key)...)
	}
	return results
}

// GetPendingCount 待归并的日志组数量
func (d *LogDeduplicator) GetPendingCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.groups)
}
