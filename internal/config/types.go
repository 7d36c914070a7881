package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// Seconds 返回整秒数，Cache-Control max-age 直接使用该值。
func (d Duration) Seconds() int64 {
	return int64(time.Duration(d) / time.Second)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的图片格式。gif 只对动图头像可用，因此不能作为回退格式。
const (
	FiletypePNG  = "png"
	FiletypeJPEG = "jpeg"
	FiletypeWebP = "webp"
	FiletypeGIF  = "gif"
)

// 缓存后端。
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// GlobalConfig 描述进程级运行参数：监听、日志、上游调用与后台任务。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort" validate:"min=1,max=65535"`
	BindAddress         string   `mapstructure:"BindAddress" validate:"required"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize" validate:"gte=0"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups" validate:"gte=0"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout" validate:"gt=0"`
	UpstreamMinInterval Duration `mapstructure:"UpstreamMinInterval" validate:"gte=0"`
	PrewarmInterval     Duration `mapstructure:"PrewarmInterval" validate:"gte=0"`
	MetricsEnabled      bool     `mapstructure:"MetricsEnabled"`
}

// AvatarConfig 决定向上游请求哪个用户的头像以及以何种格式/尺寸返回。
type AvatarConfig struct {
	UserID              string `mapstructure:"UserID" validate:"required"`
	AuthorizationHeader string `mapstructure:"AuthorizationHeader" validate:"required"`
	APIBaseURL          string `mapstructure:"APIBaseURL" validate:"required,http_url"`
	CDNBaseURL          string `mapstructure:"CDNBaseURL" validate:"required,http_url"`
	UserAgent           string `mapstructure:"UserAgent" validate:"required"`
	Filetype            string `mapstructure:"Filetype" validate:"oneof=png jpeg webp gif"`
	ReturnWebpAnimated  bool   `mapstructure:"ReturnWebpAnimated"`
	FallbackFiletype    string `mapstructure:"FallbackFiletype" validate:"oneof=png jpeg webp"`
	ImageSize           int    `mapstructure:"ImageSize" validate:"min=16,max=4096,pow2"`
}

// CacheConfig 描述唯一缓存槽的存放位置与新鲜度。
type CacheConfig struct {
	CacheFile     string   `mapstructure:"CacheFile" validate:"required"`
	CacheTTL      Duration `mapstructure:"CacheTTL" validate:"wholesec"`
	CacheEnabled  bool     `mapstructure:"CacheEnabled"`
	CacheBackend  string   `mapstructure:"CacheBackend" validate:"oneof=file redis memory"`
	RedisAddr     string   `mapstructure:"RedisAddr" validate:"required_if=CacheBackend redis"`
	RedisPassword string   `mapstructure:"RedisPassword"`
	RedisDB       int      `mapstructure:"RedisDB" validate:"gte=0"`
	RedisKey      string   `mapstructure:"RedisKey" validate:"required_if=CacheBackend redis"`
}

// Config 是 TOML 文件映射的整体结构，启动后只读。
type Config struct {
	Global GlobalConfig `mapstructure:",squash"`
	Avatar AvatarConfig `mapstructure:",squash"`
	Cache  CacheConfig  `mapstructure:",squash"`
}

// UserEndpoint 返回用户资料接口地址。
func (c AvatarConfig) UserEndpoint() string {
	return strings.TrimRight(c.APIBaseURL, "/") + "/users/" + c.UserID
}

// AvatarBaseURL 返回头像 CDN 前缀，后续拼接 /{hash}.{ext}。
func (c AvatarConfig) AvatarBaseURL() string {
	return strings.TrimRight(c.CDNBaseURL, "/") + "/avatars/" + c.UserID
}

// CacheMode 输出 `file:enabled` 之类的摘要，供启动日志使用。
func (c CacheConfig) CacheMode() string {
	state := "disabled"
	if c.CacheEnabled {
		state = "enabled"
	}
	return fmt.Sprintf("%s:%s", c.CacheBackend, state)
}
