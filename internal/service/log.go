package service

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ew384/social-auto-upload-sub000/internal/types"
)

const (
	defaultLogLimit    = 500
	defaultQueryLimit  = 100
	dedupFlushInterval = time.Second
)

// LogService 最近日志的内存缓冲，作为 utils 日志的输出端
type LogService struct {
	logs         []types.SimpleLog
	mutex        sync.RWMutex
	limit        int
	deduplicator *LogDeduplicator
	enableDedup  bool

	stop     chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewLogService 创建日志服务并启动归并刷新协程，limit<=0 时保留 500 条
func NewLogService(limit int) *LogService {
	if limit <= 0 {
		limit = defaultLogLimit
	}
	s := &LogService{
		logs:         make([]types.SimpleLog, 0, limit),
		limit:        limit,
		deduplicator: NewLogDeduplicator(),
		enableDedup:  true,
		stop:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// Close 停止刷新协程并输出剩余的归并日志
func (s *LogService) Close() {
	s.stopOnce.Do(func() {
		close(s.stop)
		<-s.stopped
		s.Flush()
	})
}

func (s *LogService) flushLoop() {
	defer close(s.stopped)
	ticker := time.NewTicker(dedupFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.flushExpired(now)
		}
	}
}

// Flush 立即输出全部待归并的日志
func (s *LogService) Flush() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.flushLocked()
}

func (s *LogService) flushExpired(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, merged := range s.deduplicator.FlushExpired(now) {
		s.appendLocked(merged.SimpleLog)
	}
}

func (s *LogService) flushLocked() {
	for _, merged := range s.deduplicator.FlushAll() {
		s.appendLocked(merged.SimpleLog)
	}
}

func (s *LogService) appendLocked(log types.SimpleLog) {
	if log.Level == "" {
		log.Level = extractLevel(log.Message)
	}
	s.logs = append(s.logs, log)
	if len(s.logs) > s.limit {
		s.logs = s.logs[len(s.logs)-s.limit:]
	}
}

// Add 添加日志（实现 utils.LogServiceInterface）
func (s *LogService) Add(log types.SimpleLog) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.enableDedup {
		s.appendLocked(log)
		return
	}
	for _, merged := range s.deduplicator.Process(log) {
		s.appendLocked(merged.SimpleLog)
	}
}

// Query 按条件查询，最新的在前
func (s *LogService) Query(query types.LogQuery) []types.SimpleLog {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	limit := query.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	result := make([]types.SimpleLog, 0, limit)
	for i := len(s.logs) - 1; i >= 0 && len(result) < limit; i-- {
		log := s.logs[i]
		if query.Keyword != "" && !strings.Contains(log.Message, query.Keyword) {
			continue
		}
		if query.Platform != "" && log.Platform != query.Platform {
			continue
		}
		if query.Level != "" && log.Level != query.Level {
			continue
		}
		result = append(result, log)
	}
	return result
}

// GetAll 最近 limit 条日志
func (s *LogService) GetAll(limit int) []types.SimpleLog {
	return s.Query(types.LogQuery{Limit: limit})
}

// Clear 清空日志，丢弃待归并的条目
func (s *LogService) Clear() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.logs = make([]types.SimpleLog, 0, s.limit)
	s.deduplicator.FlushAll()
}

// Count 当前日志条数
func (s *LogService) Count() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.logs)
}

// SetDedupEnabled 开关日志归并，关闭前先输出待归并的条目
func (s *LogService) SetDedupEnabled(enabled bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !enabled && s.enableDedup {
		s.flushLocked()
	}
	s.enableDedup = enabled
}

func (s *LogService) IsDedupEnabled() bool {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.enableDedup
}

// GetPendingDedupCount 待归并的日志组数量
func (s *LogService) GetPendingDedupCount() int {
	return s.deduplicator.GetPendingCount()
}

// GetPlatforms 有日志的平台列表
func (s *LogService) GetPlatforms() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	seen := make(map[string]bool)
	for _, log := range s.logs {
		if log.Platform != "" {
			seen[log.Platform] = true
		}
	}
	platforms := make([]string, 0, len(seen))
	for p := range seen {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	return platforms
}
