package types

import (
	"fmt"
	"strings"
)

// Platform 平台枚举，凭证库与壳客户端共用同一套编号
type Platform int

const (
	PlatformUnknown        Platform = 0
	PlatformXiaohongshu    Platform = 1
	PlatformWeixinChannels Platform = 2
	PlatformDouyin         Platform = 3
	PlatformKuaishou       Platform = 4
	PlatformTiktok         Platform = 5
)

var platformNames = map[Platform]string{
	PlatformXiaohongshu:    "xiaohongshu",
	PlatformWeixinChannels: "weixin_channels",
	PlatformDouyin:         "douyin",
	PlatformKuaishou:       "kuaishou",
	PlatformTiktok:         "tiktok",
}

// 兼容旧配置里出现过的别名
var platformAliases = map[string]Platform{
	"tencent":  PlatformWeixinChannels,
	"weixin":   PlatformWeixinChannels,
	"channels": PlatformWeixinChannels,
	"xhs":      PlatformXiaohongshu,
	"ks":       PlatformKuaishou,
}

// AllPlatforms 返回全部已支持平台
func AllPlatforms() []Platform {
	return []Platform{
		PlatformXiaohongshu,
		PlatformWeixinChannels,
		PlatformDouyin,
		PlatformKuaishou,
		PlatformTiktok,
	}
}

func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return fmt.Sprintf("platform(%d)", int(p))
}

// Valid 是否为已支持的平台
func (p Platform) Valid() bool {
	_, ok := platformNames[p]
	return ok
}

// ParsePlatform 解析平台名称或编号
func ParsePlatform(s string) (Platform, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for p, name := range platformNames {
		if name == key || fmt.Sprint(int(p)) == key {
			return p, nil
		}
	}
	if p, ok := platformAliases[key]; ok {
		return p, nil
	}
	return PlatformUnknown, fmt.Errorf("unknown platform %q", s)
}

// MarshalText 以名称形式序列化
func (p Platform) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("invalid platform %d", int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText 支持名称和编号两种写法
func (p *Platform) UnmarshalText(text []byte) error {
	parsed, err := ParsePlatform(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
