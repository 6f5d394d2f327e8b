package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Config 浏览器启动配置
type Config struct {
	ProxyURL string // 代理URL，为空时直连
	Headless bool
	Bin      string // 浏览器可执行文件，为空时由 launcher 自动查找或下载
}

// Browser 封装 rod.Browser 实例
type Browser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	proxyURL string // 代理URL
}

// New 启动浏览器进程并建立连接，ctx 取消时浏览器随之退出
func New(ctx context.Context, cfg Config) (*Browser, error) {
	l := launcher.New().Context(ctx).Headless(cfg.Headless)
	if cfg.ProxyURL != "" {
		l = l.Proxy(cfg.ProxyURL)
	}
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}

	url, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	rb := rod.New().Context(ctx).ControlURL(url)
	if err := rb.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	return &Browser{
		browser:  rb,
		launcher: l,
		proxyURL: cfg.ProxyURL,
	}, nil
}

// GetProxyURL 获取当前使用的代理URL
func (b *Browser) GetProxyURL() string {
	return b.proxyURL
}

// NewPage 创建新的浏览器页面
func (b *Browser) NewPage() (*rod.Page, error) {
	page, err := b.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Close 关闭浏览器并清理资源，可重复调用
func (b *Browser) Close() error {
	var err error
	if b.browser != nil {
		err = b.browser.Close()
		b.browser = nil
	}
	if b.launcher != nil {
		b.launcher.Kill()
		b.launcher = nil
	}
	return err
}
