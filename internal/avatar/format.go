// Package avatar decides which image format and query parameters to request
// from the avatar CDN for a given avatar hash.
package avatar

import (
	"strconv"
	"strings"
)

// AnimatedPrefix 标记动图头像的 hash 前缀。
const AnimatedPrefix = "a_"

// FormatOptions 是协商所需的配置子集。
type FormatOptions struct {
	Filetype           string
	FallbackFiletype   string
	ReturnWebpAnimated bool
	ImageSize          int
}

// Params 是一次刷新使用的扩展名与有序查询参数。
type Params struct {
	Extension string
	Query     Query
}

// IsAnimated 报告 hash 是否对应动图头像。
func IsAnimated(hash string) bool {
	return strings.HasPrefix(hash, AnimatedPrefix)
}

// Negotiate 根据头像 hash 与配置确定扩展名与查询参数：
// webp + 动图时附带 animated；gif + 静态头像时改用回退格式；其余沿用配置格式。
// size 始终存在且排在首位。
func Negotiate(hash string, opts FormatOptions) Params {
	var query Query
	query.Add("size", strconv.Itoa(opts.ImageSize))

	animated := IsAnimated(hash)
	extension := opts.Filetype
	switch {
	case opts.Filetype == "webp" && animated:
		query.Add("animated", strconv.FormatBool(opts.ReturnWebpAnimated))
	case opts.Filetype == "gif" && !animated:
		extension = opts.FallbackFiletype
	}

	return Params{Extension: extension, Query: query}
}

// URL 拼接 {base}/{hash}.{ext}{query}。
func URL(base, hash string, params Params) string {
	return strings.TrimRight(base, "/") + "/" + hash + "." + params.Extension + params.Query.Encode()
}
