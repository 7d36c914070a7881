package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求 ID、命中状态与输出格式字段，供头像请求日志复用。
func RequestFields(requestID string, cacheHit bool, extension string) logrus.Fields {
	fields := logrus.Fields{
		"cache_hit": cacheHit,
		"format":    extension,
	}
	if requestID != "" {
		fields["request_id"] = requestID
	}
	return fields
}

// UpstreamFields 描述一次上游调用，call 取值 user/avatar。
func UpstreamFields(call, url string, status int) logrus.Fields {
	return logrus.Fields{
		"action":          "upstream",
		"call":            call,
		"upstream":        url,
		"upstream_status": status,
	}
}
