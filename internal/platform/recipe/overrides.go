package recipe

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ew384/social-auto-upload-sub000/internal/utils"

	"gopkg.in/yaml.v3"
)

// Override 配方覆盖文件 <platform>.yaml 的内容，只替换出现的字段
type Override struct {
	HomeURL          string            `yaml:"home_url"`
	LoginURL         string            `yaml:"login_url"`
	UploadURL        string            `yaml:"upload_url"`
	LoginPatterns    []string          `yaml:"login_patterns"`
	AuthSelector     string            `yaml:"auth_selector"`
	AuthenticatedURL string            `yaml:"authenticated_url"`
	RequiredCookies  []string          `yaml:"required_cookies"`
	TitleLimit       int               `yaml:"title_limit"`
	ScheduleLayout   string            `yaml:"schedule_layout"`
	Selectors        map[string]string `yaml:"selectors"`
}

// Apply 返回应用覆盖后的新配方
func (o Override) Apply(r *Recipe) *Recipe {
	cp := r.Clone()
	if o.HomeURL != "" {
		cp.HomeURL = o.HomeURL
	}
	if o.LoginURL != "" {
		cp.LoginURL = o.LoginURL
	}
	if o.UploadURL != "" {
		cp.UploadURL = o.UploadURL
	}
	if len(o.LoginPatterns) > 0 {
		cp.LoginPatterns = append([]string(nil), o.LoginPatterns...)
	}
	if o.AuthSelector != "" {
		cp.AuthSelector = o.AuthSelector
	}
	if o.AuthenticatedURL != "" {
		cp.AuthenticatedURL = o.AuthenticatedURL
	}
	if len(o.RequiredCookies) > 0 {
		cp.RequiredCookies = append([]string(nil), o.RequiredCookies...)
	}
	if o.TitleLimit > 0 {
		cp.TitleLimit = o.TitleLimit
	}
	if o.ScheduleLayout != "" {
		cp.ScheduleLayout = o.ScheduleLayout
	}
	for k, v := range o.Selectors {
		cp.Selectors[k] = v
	}
	return cp
}

// LoadOverrides 读取目录中各平台的覆盖文件并替换 book 中的配方，返回被覆盖的平台数
//
// 目录不存在时什么也不做。
func LoadOverrides(dir string, book *Book) (int, error) {
	if dir == "" {
		return 0, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}

	applied := 0
	for _, platform := range book.Platforms() {
		path := filepath.Join(dir, platform.String()+".yaml")
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return applied, fmt.Errorf("read recipe override %s: %w", path, err)
		}

		var o Override
		if err := yaml.Unmarshal(data, &o); err != nil {
			return applied, fmt.Errorf("parse recipe override %s: %w", path, err)
		}
		base, err := book.Get(platform)
		if err != nil {
			return applied, err
		}
		book.Register(o.Apply(base))
		applied++
		utils.InfoWithPlatform(platform.String(), fmt.Sprintf("[+] 已应用配方覆盖: %s", path))
	}
	return applied, nil
}
