package credential

import "github.com/ew384/social-auto-upload-sub000/internal/types"

// CookieDomainConfig 单个域名的Cookie配置
type CookieDomainConfig struct {
	Domain          string   // Cookie域名
	RequiredCookies []string // 必需Cookie名称列表
	ExtendedCookies []string // 扩展Cookie名称列表
}

// PlatformCookieConfig 平台Cookie检测配置
type PlatformCookieConfig struct {
	Domains []CookieDomainConfig
}

// PlatformCookieConfigs 各平台维持登录态的Cookie（必需）和影响操作/风控的Cookie（扩展）
var PlatformCookieConfigs = map[types.Platform]PlatformCookieConfig{
	types.PlatformDouyin: {
		Domains: []CookieDomainConfig{{
			Domain:          "douyin.com",
			RequiredCookies: []string{"sessionid"},
			ExtendedCookies: []string{"ttwid", "odin_tt"},
		}},
	},
	types.PlatformTiktok: {
		Domains: []CookieDomainConfig{{
			Domain:          "tiktok.com",
			RequiredCookies: []string{"sessionid"},
			ExtendedCookies: []string{"_ttp", "tt_chain_token"},
		}},
	},
	types.PlatformKuaishou: {
		Domains: []CookieDomainConfig{{
			Domain:          "kuaishou.com",
			RequiredCookies: []string{"kuaishou.web.cp.api_ph", "kuaishou.web.cp.api_st"},
			ExtendedCookies: []string{"did"},
		}},
	},
	types.PlatformWeixinChannels: {
		// 视频号核心Cookie：sessionid + wxuin
		Domains: []CookieDomainConfig{{
			Domain:          "channels.weixin.qq.com",
			RequiredCookies: []string{"sessionid", "wxuin"},
		}},
	},
	types.PlatformXiaohongshu: {
		// web_session 为全平台登录态核心，a1 为设备标识；创作者中心会话单独校验
		Domains: []CookieDomainConfig{
			{
				Domain:          "xiaohongshu.com",
				RequiredCookies: []string{"web_session", "a1"},
				ExtendedCookies: []string{"customer-sso-sid", "loadts", "websectiga", "webId"},
			},
			{
				Domain:          "creator.xiaohongshu.com",
				ExtendedCookies: []string{"galaxy_creator_session_id", "access-token-creator.xiaohongshu.com"},
			},
		},
	},
}

// GetCookieConfig 获取指定平台的Cookie配置
func GetCookieConfig(platform types.Platform) (PlatformCookieConfig, bool) {
	cfg, ok := PlatformCookieConfigs[platform]
	return cfg, ok
}

// RequiredCookies 平台全部必需Cookie
func (c PlatformCookieConfig) RequiredCookies() []string {
	names := make([]string, 0)
	for _, d := range c.Domains {
		names = append(names, d.RequiredCookies...)
	}
	return names
}

// GetAllCookies 所有需要关注的Cookie（必需+扩展）
func (c PlatformCookieConfig) GetAllCookies() []string {
	names := make([]string, 0)
	for _, d := range c.Domains {
		names = append(names, d.RequiredCookies...)
		names = append(names, d.ExtendedCookies...)
	}
	return names
}
