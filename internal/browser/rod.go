package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/RecoveryAshes/codexharvest/internal/models"
	"github.com/RecoveryAshes/codexharvest/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// DefaultEndpoint 本地调试端口上的浏览器
const DefaultEndpoint = "http://localhost:9222"

// pageCloseTimeout 关闭标签页的时间上限
const pageCloseTimeout = 5 * time.Second

// RodOptions 浏览器会话选项
type RodOptions struct {
	Endpoint    string // 已运行浏览器的调试地址(http或ws),Launch为true时忽略
	Launch      bool   // 自行启动浏览器
	Headless    bool
	UserDataDir string // 启动时使用的用户数据目录,用于保留登录状态
	Bin         string // 浏览器可执行文件路径,为空时自动查找
	Stealth     bool   // 新标签页注入反自动化检测脚本
	Headers     models.HeaderProvider
}

// RodSession 基于go-rod的浏览器会话
type RodSession struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	cancel   context.CancelFunc
	opts     RodOptions

	closeOnce sync.Once
}

// ConnectRod 连接已运行的浏览器,或按选项启动一个新浏览器
func ConnectRod(ctx context.Context, opts RodOptions) (*RodSession, error) {
	sessionCtx, cancel := context.WithCancel(context.Background())
	s := &RodSession{cancel: cancel, opts: opts}

	controlURL, err := s.resolveControlURL(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	b := rod.New().ControlURL(controlURL).Context(sessionCtx)
	if err := b.Connect(); err != nil {
		cancel()
		if s.launcher != nil {
			s.launcher.Cleanup()
		}
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}
	s.browser = b

	utils.Debugf("浏览器已连接: %s", controlURL)
	return s, nil
}

// resolveControlURL 得到CDP的websocket地址
func (s *RodSession) resolveControlURL(ctx context.Context) (string, error) {
	if s.opts.Launch {
		l := launcher.New().Context(ctx).Headless(s.opts.Headless)
		if s.opts.Bin != "" {
			l = l.Bin(s.opts.Bin)
		}
		if s.opts.UserDataDir != "" {
			l = l.UserDataDir(s.opts.UserDataDir)
		}
		controlURL, err := l.Launch()
		if err != nil {
			return "", fmt.Errorf("启动浏览器失败: %w", err)
		}
		s.launcher = l
		return controlURL, nil
	}

	endpoint := s.opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if strings.HasPrefix(endpoint, "ws://") || strings.HasPrefix(endpoint, "wss://") {
		return endpoint, nil
	}
	controlURL, err := launcher.ResolveURL(endpoint)
	if err != nil {
		return "", fmt.Errorf("无法解析浏览器调试地址 %s: %w", endpoint, err)
	}
	return controlURL, nil
}

// ActiveContext 返回默认浏览上下文,即用户已登录的那个
func (s *RodSession) ActiveContext() (Context, bool) {
	if s.browser == nil {
		return nil, false
	}
	if _, err := (proto.BrowserGetVersion{}).Call(s.browser); err != nil {
		utils.Warnf("浏览器会话不可用: %v", err)
		return nil, false
	}
	return &rodContext{session: s}, true
}

// Close 关闭会话
// 自行启动的浏览器会被关闭,连接的外部浏览器只断开连接
func (s *RodSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.launcher != nil && s.browser != nil {
			err = s.browser.Close()
			s.launcher.Cleanup()
		}
		s.cancel()
		utils.Debugf("浏览器会话已关闭")
	})
	return err
}

type rodContext struct {
	session *RodSession
}

// NewPage 在共享上下文中打开新标签页
func (c *rodContext) NewPage(ctx context.Context) (Page, error) {
	b := c.session.browser.Context(ctx)

	var (
		page *rod.Page
		err  error
	)
	if c.session.opts.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, &CapabilityError{Op: "new_page", Err: err}
	}

	if c.session.opts.Headers != nil {
		if err := applyHeaders(page, c.session.opts.Headers); err != nil {
			utils.Warnf("设置额外请求头失败: %v", err)
		}
	}

	return &rodPage{page: page, ctx: ctx}, nil
}

// applyHeaders 把HeaderProvider中的头部应用到标签页
func applyHeaders(page *rod.Page, provider models.HeaderProvider) error {
	headers, err := provider.GetHeaders()
	if err != nil {
		return err
	}
	flat := models.FlattenHeaders(headers)
	if len(flat) == 0 {
		return nil
	}
	dict := make([]string, 0, len(flat)*2)
	for name, value := range flat {
		dict = append(dict, name, value)
	}
	_, err = page.SetExtraHeaders(dict)
	return err
}

type rodPage struct {
	page *rod.Page
	ctx  context.Context
}

func (p *rodPage) Navigate(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error {
	navCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	page := p.page.Context(navCtx)

	var err error
	switch wait {
	case WaitDOMContentLoaded, WaitNetworkIdle:
		event := proto.PageLifecycleEventNameDOMContentLoaded
		if wait == WaitNetworkIdle {
			event = proto.PageLifecycleEventNameNetworkIdle
		}
		waitFn := page.WaitNavigation(event)
		if err = page.Navigate(url); err == nil {
			waitFn()
			err = navCtx.Err()
		}
	default:
		if err = page.Navigate(url); err == nil {
			err = page.WaitLoad()
		}
	}
	if err == nil {
		return nil
	}

	if classified := classify("navigate", err); IsCapability(classified) {
		return classified
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return ctx.Err()
	}
	return &NavigationError{URL: url, Err: err}
}

func (p *rodPage) Title(ctx context.Context) (string, error) {
	info, err := p.page.Context(ctx).Info()
	if err != nil {
		return "", classify("title", err)
	}
	return info.Title, nil
}

func (p *rodPage) Query(ctx context.Context, sel Selector) (Element, error) {
	elements, err := p.QueryAll(ctx, sel)
	if err != nil || len(elements) == 0 {
		return nil, err
	}
	return elements[0], nil
}

func (p *rodPage) QueryAll(ctx context.Context, sel Selector) ([]Element, error) {
	found, err := p.page.Context(ctx).Elements(sel.CSS)
	if err != nil {
		return nil, classify("query", err)
	}
	elements := make([]Element, 0, len(found))
	for _, el := range found {
		elements = append(elements, &rodElement{el: el})
	}
	return filterByText(ctx, sel, elements)
}

func (p *rodPage) Evaluate(ctx context.Context, script string) (any, error) {
	res, err := p.page.Context(ctx).Evaluate(rod.Eval(script))
	if err != nil {
		return nil, classify("evaluate", err)
	}
	return res.Value.Val(), nil
}

// Close 任务ctx取消后仍需关闭标签页,否则浏览器中会残留页面
func (p *rodPage) Close() error {
	ctx, cancel := releaseContext(p.ctx, pageCloseTimeout)
	defer cancel()
	return classify("close", p.page.Context(ctx).Close())
}

// releaseContext 释放资源用的ctx:不随父ctx取消,只受timeout限制
func releaseContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(parent), timeout)
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	text, err := e.el.Context(ctx).Text()
	if err != nil {
		return "", classify("text", err)
	}
	return text, nil
}

func (e *rodElement) InnerHTML(ctx context.Context) (string, error) {
	res, err := e.el.Context(ctx).Eval(`() => this.innerHTML`)
	if err != nil {
		return "", classify("inner_html", err)
	}
	return res.Value.Str(), nil
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	value, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, classify("attribute", err)
	}
	if value == nil {
		return "", false, nil
	}
	return *value, true, nil
}

func (e *rodElement) Click(ctx context.Context) error {
	return classify("click", e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1))
}

func (e *rodElement) Parent(ctx context.Context) (Element, error) {
	parent, err := e.el.Context(ctx).Parent()
	if err != nil {
		return nil, classify("parent", err)
	}
	return &rodElement{el: parent}, nil
}
