// Package platform 汇总各平台配方
package platform

import (
	"github.com/ew384/social-auto-upload-sub000/internal/platform/douyin"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/kuaishou"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/recipe"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/tencent"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/tiktok"
	"github.com/ew384/social-auto-upload-sub000/internal/platform/xiaohongshu"
)

// DefaultBook 内置的五个平台配方
func DefaultBook() *recipe.Book {
	return recipe.NewBook(
		xiaohongshu.Recipe(),
		tencent.Recipe(),
		douyin.Recipe(),
		kuaishou.Recipe(),
		tiktok.Recipe(),
	)
}
