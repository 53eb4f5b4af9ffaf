package credential

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/ew384/social-auto-upload-sub000/internal/utils"

	"github.com/fsnotify/fsnotify"
)

// Watch 监听凭证目录，凭证文件被删除或移走时发送其 ID
//
// ctx 结束时关闭监听并关闭返回的通道。
func Watch(ctx context.Context, dir string) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create credential watcher failed: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch credential dir %s failed: %w", dir, err)
	}

	removed := make(chan string, 16)
	go func() {
		defer close(removed)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
					continue
				}
				if !strings.EqualFold(filepath.Ext(event.Name), ".json") {
					continue
				}
				id, err := IDFromPath(event.Name)
				if err != nil {
					continue
				}
				utils.Info(fmt.Sprintf("[-] 凭证文件已移除: %s", id))
				select {
				case removed <- id:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				utils.Warn(fmt.Sprintf("[-] 凭证目录监听出错: %v", err))
			}
		}
	}()
	return removed, nil
}
