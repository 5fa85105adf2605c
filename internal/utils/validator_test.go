package utils

import (
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/RecoveryAshes/codexharvest/internal/models"
)

func TestHeaderValidator_ValidateName(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name        string
		headerName  string
		expectError bool
	}{
		{"合法名称-字母", "Accept-Language", false},
		{"合法名称-数字", "X-Request-ID-123", false},
		{"合法名称-单字符", "X", false},
		{"非法名称-空格", "Accept Language", true},
		{"非法名称-下划线", "Accept_Language", true},
		{"非法名称-特殊字符", "Accept@Language", true},
		{"非法名称-空字符串", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateName(tt.headerName)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestHeaderValidator_ValidateValue(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name        string
		headerValue string
		expectError bool
	}{
		{"合法值-ASCII", "en-US,en;q=0.9", false},
		{"合法值-空字符串", "", false},
		{"合法值-引号", `value "with" quotes`, false},
		{"合法值-最大长度", strings.Repeat("a", MaxHeaderValueLength), false},
		{"非法值-超长", strings.Repeat("a", MaxHeaderValueLength+1), true},
		{"非法值-控制字符", "value\x00with\x01null", true},
		{"非法值-中文", "测试中文", true},
		{"非法值-表情", "test 😀 emoji", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateValue("X-Test", tt.headerValue)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestHeaderValidator_ValidateHeader(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name        string
		headerName  string
		headerValue string
		expectError bool
	}{
		{"合法头部", "Accept-Language", "en-US", false},
		{"禁止头部-Host", "Host", "chatgpt.com", true},
		{"禁止头部-Content-Length", "Content-Length", "123", true},
		{"禁止头部-不区分大小写", "HoSt", "chatgpt.com", true},
		{"会话头部-Cookie", "Cookie", "__Secure-next-auth.session-token=abc", true},
		{"会话头部-User-Agent", "User-Agent", "Mozilla/5.0", true},
		{"会话头部-不区分大小写", "cookie", "a=b", true},
		{"非法名称", "Accept Language", "en-US", true},
		{"非法值", "Accept-Language", "en\x00US", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateHeader(tt.headerName, tt.headerValue)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}

func TestHeaderValidator_ReservedReason(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name       string
		headerName string
		reason     string
	}{
		{"浏览器管理", "Connection", "浏览器自动管理"},
		{"登录会话", "Cookie", "登录状态"},
		{"登录会话-User-Agent", "user-agent", "登录状态"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !validator.IsForbidden(tt.headerName) {
				t.Fatalf("%s 应被拒绝", tt.headerName)
			}
			err := validator.ValidateHeader(tt.headerName, "x")
			var verr *models.ValidationError
			if !errors.As(err, &verr) || !strings.Contains(verr.Reason, tt.reason) {
				t.Errorf("拒绝原因 = %v, 应包含 %q", err, tt.reason)
			}
		})
	}
}

func TestHeaderValidator_ValidateOrder(t *testing.T) {
	validator := NewHeaderValidator()
	headers := http.Header{
		"Zz-Bad":          []string{"bad\x00"},
		"Connection":      []string{"close"},
		"Accept-Language": []string{"en-US"},
	}

	for i := 0; i < 20; i++ {
		var verr *models.ValidationError
		if err := validator.Validate(headers); !errors.As(err, &verr) || verr.HeaderName != "Connection" {
			t.Fatalf("第%d次校验应固定报告 Connection, 实际 %v", i, err)
		}
	}
}

func TestHeaderValidator_Validate(t *testing.T) {
	validator := NewHeaderValidator()

	tests := []struct {
		name        string
		headers     http.Header
		expectError bool
	}{
		{"合法头部集合", http.Header{
			"Accept-Language": []string{"en-US"},
			"X-Custom":        []string{"value"},
		}, false},
		{"包含禁止头部", http.Header{
			"Accept-Language": []string{"en-US"},
			"Connection":      []string{"close"},
		}, true},
		{"第二个值非法", http.Header{
			"X-Multi": []string{"ok", "bad\x00"},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.Validate(tt.headers)
			if (err != nil) != tt.expectError {
				t.Errorf("期望错误=%v, 实际错误=%v", tt.expectError, err)
			}
		})
	}
}
