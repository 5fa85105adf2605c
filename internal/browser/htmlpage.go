package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ErrPageNotFound 静态会话中没有该URL对应的页面
var ErrPageNotFound = errors.New("页面不存在")

// ErrPageClosed 标签页已关闭或已崩溃
var ErrPageClosed = errors.New("标签页已关闭")

// Document 静态页面快照
//
// Views按按钮文本索引:点击文本与键完全相同的按钮/链接后,页面内容切换为对应HTML。
// 需要"切回"行为时,把主视图也登记到Views中(例如 "Diff")。
type Document struct {
	HTML  string
	Views map[string]string

	NavigationFailures int  // 前N次导航返回导航错误
	Crash              bool // 加载后任何操作都返回能力失效
}

// StaticSession 基于已保存HTML的会话,用于离线调试选择器和测试
type StaticSession struct {
	mu       sync.Mutex
	docs     map[string]Document
	attempts map[string]int
	closed   bool
}

// NewStaticSession 创建静态会话
func NewStaticSession(docs map[string]Document) *StaticSession {
	return &StaticSession{
		docs:     docs,
		attempts: make(map[string]int),
	}
}

// ActiveContext 会话关闭后不再可用
func (s *StaticSession) ActiveContext() (Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	return s, true
}

// Close 关闭会话
func (s *StaticSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// NewPage 打开空白标签页
func (s *StaticSession) NewPage(ctx context.Context) (Page, error) {
	return &HTMLPage{session: s}, nil
}

// Attempts 返回某URL被导航的次数
func (s *StaticSession) Attempts(url string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[url]
}

// load 记录一次导航并按配置决定结果
func (s *StaticSession) load(url string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Document{}, &CapabilityError{Op: "navigate", Err: ErrPageClosed}
	}
	s.attempts[url]++
	doc, ok := s.docs[url]
	if !ok {
		return Document{}, ErrPageNotFound
	}
	if s.attempts[url] <= doc.NavigationFailures {
		return Document{}, fmt.Errorf("模拟导航失败 (第%d次)", s.attempts[url])
	}
	return doc, nil
}

// HTMLPage goquery实现的页面
type HTMLPage struct {
	session *StaticSession

	mu      sync.Mutex
	snap    Document
	doc     *goquery.Document
	crashed bool
	closed  bool
}

// NewHTMLPage 直接从快照创建页面,无需导航
func NewHTMLPage(snap Document) (*HTMLPage, error) {
	p := &HTMLPage{}
	if err := p.show(snap, snap.HTML); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *HTMLPage) show(snap Document, html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("解析HTML失败: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snap = snap
	p.doc = doc
	p.crashed = snap.Crash
	return nil
}

// document 返回当前视图,页面不可用时返回能力失效错误
func (p *HTMLPage) document(op string) (*goquery.Document, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.crashed {
		return nil, &CapabilityError{Op: op, Err: ErrPageClosed}
	}
	if p.doc == nil {
		return nil, fmt.Errorf("页面尚未加载")
	}
	return p.doc, nil
}

// switchView 按按钮文本切换视图,没有对应视图时不做任何事
func (p *HTMLPage) switchView(label string) error {
	p.mu.Lock()
	html, ok := p.snap.Views[label]
	snap := p.snap
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.show(snap, html)
}

func (p *HTMLPage) Navigate(ctx context.Context, url string, wait WaitCondition, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.session == nil {
		return &NavigationError{URL: url, Err: ErrUnsupported}
	}
	snap, err := p.session.load(url)
	if err != nil {
		if IsCapability(err) {
			return err
		}
		return &NavigationError{URL: url, Err: err}
	}
	return p.show(snap, snap.HTML)
}

func (p *HTMLPage) Title(ctx context.Context) (string, error) {
	doc, err := p.document("title")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(doc.Find("title").First().Text()), nil
}

func (p *HTMLPage) Query(ctx context.Context, sel Selector) (Element, error) {
	elements, err := p.QueryAll(ctx, sel)
	if err != nil || len(elements) == 0 {
		return nil, err
	}
	return elements[0], nil
}

func (p *HTMLPage) QueryAll(ctx context.Context, sel Selector) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := p.document("query")
	if err != nil {
		return nil, err
	}
	if err := sel.Validate(); err != nil {
		return nil, err
	}
	var elements []Element
	doc.Find(sel.CSS).Each(func(_ int, s *goquery.Selection) {
		if sel.MatchText(s.Text()) {
			elements = append(elements, &htmlElement{page: p, sel: s})
		}
	})
	return elements, nil
}

func (p *HTMLPage) Evaluate(ctx context.Context, script string) (any, error) {
	if _, err := p.document("evaluate"); err != nil {
		return nil, err
	}
	return nil, ErrUnsupported
}

func (p *HTMLPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Closed 页面是否已关闭
func (p *HTMLPage) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

type htmlElement struct {
	page *HTMLPage
	sel  *goquery.Selection
}

func (e *htmlElement) alive(op string) error {
	_, err := e.page.document(op)
	return err
}

func (e *htmlElement) Text(ctx context.Context) (string, error) {
	if err := e.alive("text"); err != nil {
		return "", err
	}
	return e.sel.Text(), nil
}

func (e *htmlElement) InnerHTML(ctx context.Context) (string, error) {
	if err := e.alive("inner_html"); err != nil {
		return "", err
	}
	return e.sel.Html()
}

func (e *htmlElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := e.alive("attribute"); err != nil {
		return "", false, err
	}
	value, ok := e.sel.Attr(name)
	return value, ok, nil
}

func (e *htmlElement) Click(ctx context.Context) error {
	if err := e.alive("click"); err != nil {
		return err
	}
	return e.page.switchView(strings.TrimSpace(e.sel.Text()))
}

func (e *htmlElement) Parent(ctx context.Context) (Element, error) {
	if err := e.alive("parent"); err != nil {
		return nil, err
	}
	parent := e.sel.Parent()
	if parent.Length() == 0 {
		return nil, nil
	}
	return &htmlElement{page: e.page, sel: parent}, nil
}
