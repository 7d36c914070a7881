package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPrefix 是环境变量覆盖的前缀，例如 AVATAR_HUB_AUTHORIZATIONHEADER。
const EnvPrefix = "AVATAR_HUB"

// Load 读取并解析 TOML 配置文件，同时注入默认值、环境变量覆盖与校验逻辑。
// path 为空时只使用默认值与环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("读取配置失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Cache.CacheBackend == BackendFile {
		absFile, err := filepath.Abs(cfg.Cache.CacheFile)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存文件路径: %w", err)
		}
		cfg.Cache.CacheFile = absFile
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 5000)
	v.SetDefault("BindAddress", "0.0.0.0")
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("UpstreamTimeout", "10s")
	v.SetDefault("UpstreamMinInterval", "0s")
	v.SetDefault("PrewarmInterval", "0s")
	v.SetDefault("MetricsEnabled", true)

	// 以下键没有合理默认值，但需要先登记，AutomaticEnv 才能在 Unmarshal 时生效。
	v.SetDefault("UserID", "")
	v.SetDefault("AuthorizationHeader", "")
	v.SetDefault("APIBaseURL", "https://discord.com/api/v10")
	v.SetDefault("CDNBaseURL", "https://cdn.discordapp.com")
	v.SetDefault("UserAgent", "AvatarServer/1.0")
	v.SetDefault("Filetype", FiletypePNG)
	v.SetDefault("ReturnWebpAnimated", false)
	v.SetDefault("FallbackFiletype", FiletypePNG)
	v.SetDefault("ImageSize", 128)

	v.SetDefault("CacheFile", "cached_image.png")
	v.SetDefault("CacheTTL", 600)
	v.SetDefault("CacheEnabled", true)
	v.SetDefault("CacheBackend", BackendFile)
	v.SetDefault("RedisAddr", "")
	v.SetDefault("RedisPassword", "")
	v.SetDefault("RedisDB", 0)
	v.SetDefault("RedisKey", "avatar-hub:avatar")
}

// normalize 统一大小写与空白；不会填充显式写为 0 的数值，交由 Validate 拒绝。
func normalize(cfg *Config) {
	cfg.Avatar.Filetype = strings.ToLower(strings.TrimSpace(cfg.Avatar.Filetype))
	cfg.Avatar.FallbackFiletype = strings.ToLower(strings.TrimSpace(cfg.Avatar.FallbackFiletype))
	cfg.Avatar.UserID = strings.TrimSpace(cfg.Avatar.UserID)
	cfg.Cache.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.Cache.CacheBackend))
	cfg.Global.LogLevel = strings.ToLower(strings.TrimSpace(cfg.Global.LogLevel))
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			v = strings.TrimSpace(v)
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
