package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// structValidator 懒加载共享的 validator 实例，并注册自定义规则。
func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		_ = v.RegisterValidation("pow2", isPowerOfTwo)
		_ = v.RegisterValidation("wholesec", isWholeSeconds)
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("mapstructure"), ",", 2)[0]
			if name == "" {
				return fld.Name
			}
			return name
		})
		validate = v
	})
	return validate
}

func isPowerOfTwo(fl validator.FieldLevel) bool {
	n := fl.Field().Int()
	return n > 0 && n&(n-1) == 0
}

// isWholeSeconds 要求至少 1 秒且为整秒，对应 max-age 的整数语义。
func isWholeSeconds(fl validator.FieldLevel) bool {
	d := time.Duration(fl.Field().Int())
	return d >= time.Second && d%time.Second == 0
}

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
// 所有违规项会被汇总返回，每一项都是 FieldError。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	var result *multierror.Error
	for _, section := range []struct {
		name  string
		value interface{}
	}{
		{"Global", c.Global},
		{"Avatar", c.Avatar},
		{"Cache", c.Cache},
	} {
		err := structValidator().Struct(section.value)
		if err == nil {
			continue
		}
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			result = multierror.Append(result, err)
			continue
		}
		for _, fe := range verrs {
			result = multierror.Append(result, newFieldError(section.name+"."+fe.Field(), reasonFor(fe)))
		}
	}

	if c.Global.LogLevel != "" {
		if err := validateLogLevel(c.Global.LogLevel); err != nil {
			result = multierror.Append(result, newFieldError("Global.LogLevel", err.Error()))
		}
	}

	return result.ErrorOrNil()
}

func reasonFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "不能为空"
	case "required_if":
		return fmt.Sprintf("当 %s 时不能为空", strings.Replace(fe.Param(), " ", "=", 1))
	case "oneof":
		return "仅支持 " + strings.ReplaceAll(fe.Param(), " ", "|")
	case "pow2":
		return "必须是 2 的幂"
	case "wholesec":
		return "必须是大于 0 的整秒数"
	case "http_url":
		return "必须是 http/https 地址"
	case "min":
		return "不能小于 " + fe.Param()
	case "max":
		return "不能大于 " + fe.Param()
	case "gt":
		return "必须大于 " + fe.Param()
	case "gte":
		return "不能为负数"
	default:
		return fmt.Sprintf("校验失败 (%s)", fe.Tag())
	}
}

var supportedLogLevels = map[string]struct{}{
	"trace": {}, "debug": {}, "info": {}, "warn": {}, "warning": {}, "error": {}, "fatal": {}, "panic": {},
}

func validateLogLevel(level string) error {
	if _, ok := supportedLogLevels[strings.ToLower(strings.TrimSpace(level))]; !ok {
		return fmt.Errorf("未知日志级别 %s", level)
	}
	return nil
}
