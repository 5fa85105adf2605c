package browser

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported 后端不支持该操作
var ErrUnsupported = errors.New("当前页面后端不支持该操作")

// NavigationError 导航失败,属于可重试的瞬时错误
type NavigationError struct {
	URL string
	Err error
}

// Error 实现error接口
func (e *NavigationError) Error() string {
	return fmt.Sprintf("导航失败 [%s]: %v", e.URL, e.Err)
}

// Unwrap 支持errors.Unwrap
func (e *NavigationError) Unwrap() error {
	return e.Err
}

// CapabilityError 页面或会话已崩溃/断开,当前任务无法继续
type CapabilityError struct {
	Op  string
	Err error
}

// Error 实现error接口
func (e *CapabilityError) Error() string {
	return fmt.Sprintf("浏览器能力失效 [%s]: %v", e.Op, e.Err)
}

// Unwrap 支持errors.Unwrap
func (e *CapabilityError) Unwrap() error {
	return e.Err
}

// IsCapability 是否为能力失效错误
func IsCapability(err error) bool {
	var ce *CapabilityError
	return errors.As(err, &ce)
}

// IsNavigation 是否为导航错误
func IsNavigation(err error) bool {
	var ne *NavigationError
	return errors.As(err, &ne)
}

// crashMarkers CDP连接断开或目标崩溃时错误信息中的特征
var crashMarkers = []string{
	"connection closed",
	"use of closed network connection",
	"target closed",
	"session closed",
	"target crashed",
	"page crashed",
	"no target with given id",
	"websocket: close",
	"broken pipe",
}

// classify 把底层错误归类,崩溃/断开类包装为CapabilityError
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsCapability(err) {
		return err
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range crashMarkers {
		if strings.Contains(msg, marker) {
			return &CapabilityError{Op: op, Err: err}
		}
	}
	return err
}
