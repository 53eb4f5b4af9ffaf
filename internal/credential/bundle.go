package credential

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// RepairFile 把 sameSite 不在 {Strict, Lax, None} 内的 Cookie 改为 Lax，原地写回
//
// 大小写不同的合法值会被规范化；其余字段保持原样。返回被修改的 Cookie 数。
func RepairFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read credential file failed: %w", err)
	}
	repaired, changed, err := RepairBytes(data)
	if err != nil {
		return 0, fmt.Errorf("repair %s: %w", path, err)
	}
	if changed == 0 {
		return 0, nil
	}

	info, err := os.Stat(path)
	mode := os.FileMode(0600)
	if err == nil {
		mode = info.Mode().Perm()
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, repaired, mode); err != nil {
		return 0, fmt.Errorf("write credential file failed: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("replace credential file failed: %w", err)
	}
	return changed, nil
}

// RepairBytes RepairFile 的内存版本
func RepairBytes(data []byte) ([]byte, int, error) {
	if !gjson.ValidBytes(data) {
		return nil, 0, fmt.Errorf("credential bundle is not valid json")
	}
	cookies := gjson.GetBytes(data, "cookies")
	if !cookies.IsArray() {
		return nil, 0, fmt.Errorf("credential bundle has no cookies array")
	}

	out := data
	changed := 0
	var setErr error
	idx := 0
	cookies.ForEach(func(_, cookie gjson.Result) bool {
		current := cookie.Get("sameSite")
		want := normalizeSameSite(current.String())
		if !current.Exists() || current.Type != gjson.String || current.String() != want {
			out, setErr = sjson.SetBytes(out, fmt.Sprintf("cookies.%d.sameSite", idx), want)
			if setErr != nil {
				return false
			}
			changed++
		}
		idx++
		return true
	})
	if setErr != nil {
		return nil, 0, setErr
	}
	return out, changed, nil
}

func normalizeSameSite(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return "Strict"
	case "lax":
		return "Lax"
	case "none":
		return "None"
	}
	return "Lax"
}

// Report 凭证文件检查结果
type Report struct {
	Cookies int      // Cookie 总数
	Origins int      // 带 localStorage 的源数量
	Missing []string // 缺失的必需 Cookie
	Expired []string // 已过期的必需 Cookie
}

// Healthy 必需 Cookie 都存在且未过期
func (r Report) Healthy() bool {
	return len(r.Missing) == 0 && len(r.Expired) == 0
}

// Inspect 读取凭证文件并检查必需 Cookie
func Inspect(path string, required []string, now time.Time) (Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Report{}, fmt.Errorf("read credential file failed: %w", err)
	}
	var state playwright.StorageState
	if err := json.Unmarshal(data, &state); err != nil {
		return Report{}, fmt.Errorf("parse credential file failed: %w", err)
	}

	report := Report{Cookies: len(state.Cookies), Origins: len(state.Origins)}
	byName := make(map[string]playwright.Cookie, len(state.Cookies))
	for _, c := range state.Cookies {
		if c.Value == "" {
			continue
		}
		// 同名 Cookie 以最晚过期的为准
		if prev, ok := byName[c.Name]; ok && !expiresAfter(c.Expires, prev.Expires) {
			continue
		}
		byName[c.Name] = c
	}
	for _, name := range required {
		c, ok := byName[name]
		switch {
		case !ok:
			report.Missing = append(report.Missing, name)
		case c.Expires > 0 && time.Unix(int64(c.Expires), 0).Before(now):
			report.Expired = append(report.Expired, name)
		}
	}
	return report, nil
}

// expiresAfter 会话 Cookie（expires <= 0）视为永不过期
func expiresAfter(a, b float64) bool {
	if a <= 0 {
		return b > 0
	}
	return b > 0 && a > b
}
