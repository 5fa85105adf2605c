package utils

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/RecoveryAshes/codexharvest/internal/models"
)

// MaxHeaderValueLength 附加请求头值的最大长度 (8KB)
const MaxHeaderValueLength = 8192

var (
	// ForbiddenHeaders 由浏览器协议栈维护的头部
	ForbiddenHeaders = []string{
		"Host",
		"Content-Length",
		"Transfer-Encoding",
		"Connection",
	}

	// SessionHeaders 由已登录的浏览器会话提供的头部,覆盖会让任务页退回登录页
	SessionHeaders = []string{
		"Cookie",
		"User-Agent",
	}
)

var (
	headerNamePattern  = regexp.MustCompile(`^[A-Za-z0-9-]+$`)
	headerValuePattern = regexp.MustCompile(`^[\x20-\x7E\t]*$`)
)

// HeaderValidator 校验附加到任务页请求上的头部
type HeaderValidator struct {
	maxValueLength int
	// reserved 小写头部名 -> 拒绝原因
	reserved map[string]string
}

// NewHeaderValidator 创建验证器
func NewHeaderValidator() *HeaderValidator {
	reserved := make(map[string]string, len(ForbiddenHeaders)+len(SessionHeaders))
	for _, h := range ForbiddenHeaders {
		reserved[strings.ToLower(h)] = "此头部由浏览器自动管理,不允许自定义"
	}
	for _, h := range SessionHeaders {
		reserved[strings.ToLower(h)] = "此头部由已登录的浏览器会话提供,覆盖会破坏登录状态"
	}
	return &HeaderValidator{
		maxValueLength: MaxHeaderValueLength,
		reserved:       reserved,
	}
}

// ValidateName 头部名只允许字母、数字和连字符
func (hv *HeaderValidator) ValidateName(name string) error {
	if name == "" {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "头部名称不能为空",
		}
	}
	if !headerNamePattern.MatchString(name) {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     "头部名称包含非法字符 (仅允许字母、数字和连字符)",
			Suggestion: "例如 'Accept-Language' 或 'X-Request-Source'",
		}
	}
	return nil
}

// ValidateValue 头部值必须是可打印ASCII且不超过长度上限
func (hv *HeaderValidator) ValidateValue(name, value string) error {
	if len(value) > hv.maxValueLength {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), hv.maxValueLength),
			Suggestion: fmt.Sprintf("将值缩短至 %d 字节以内", hv.maxValueLength),
		}
	}
	if !headerValuePattern.MatchString(value) {
		return &models.ValidationError{
			Field:      "value",
			HeaderName: name,
			Reason:     "头部值包含非法字符 (仅允许可打印ASCII字符)",
			Suggestion: "移除控制字符和非ASCII字符",
		}
	}
	return nil
}

// ValidateHeader 先检查保留头部,再检查名称和值
func (hv *HeaderValidator) ValidateHeader(name, value string) error {
	if reason, ok := hv.reserved[strings.ToLower(name)]; ok {
		return &models.ValidationError{
			Field:      "name",
			HeaderName: name,
			Reason:     reason,
			Suggestion: fmt.Sprintf("移除 '%s' 头部配置", name),
		}
	}
	if err := hv.ValidateName(name); err != nil {
		return err
	}
	return hv.ValidateValue(name, value)
}

// IsForbidden 头部是否保留给浏览器或登录会话
func (hv *HeaderValidator) IsForbidden(name string) bool {
	_, ok := hv.reserved[strings.ToLower(name)]
	return ok
}

// Validate 按头部名排序校验,返回第一个错误,同一份配置每次报同一个错误
func (hv *HeaderValidator) Validate(headers http.Header) error {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, value := range headers[name] {
			if err := hv.ValidateHeader(name, value); err != nil {
				return err
			}
		}
	}
	return nil
}
