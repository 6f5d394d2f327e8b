package extractor

import (
	"context"
	"fmt"
	"strings"

	"goose/internal/environment"
)

// Level 内容提取级别
type Level string

const (
	LevelFull    Level = "full"
	LevelHTML    Level = "html"
	LevelBody    Level = "body"
	LevelContent Level = "content"
	LevelXPath   Level = "xpath"
	LevelCSS     Level = "css"
)

// ValidLevel 判断提取级别是否合法
func ValidLevel(level string) bool {
	switch Level(level) {
	case LevelFull, LevelHTML, LevelBody, LevelContent, LevelXPath, LevelCSS:
		return true
	}
	return false
}

// NeedsSelector 判断该级别是否需要选择器
func NeedsSelector(level string) bool {
	return Level(level) == LevelXPath || Level(level) == LevelCSS
}

// 页面内执行的 JavaScript。选择器级别优先使用注入的 selector 辅助脚本，
// 不可用时降级到 DOM API
const (
	FullJS = `() => document.documentElement.outerHTML`
	HTMLJS = `() => {
		const body = document.body;
		return body ? body.innerHTML : '';
	}`
	BodyJS    = `() => document.body ? document.body.innerText : ''`
	ContentJS = `() => {
		if (typeof Readability !== 'undefined') {
			const article = new Readability(document.cloneNode(true)).parse();
			if (article && article.content) {
				return article.content;
			}
		}
		const selectors = ['article', 'main', '.content', '.article', '.post', '.entry-content'];
		for (const sel of selectors) {
			const el = document.querySelector(sel);
			if (el && el.outerHTML) {
				return el.outerHTML;
			}
		}
		return document.body ? document.body.innerHTML : '';
	}`
	CSSJS = `(selector) => {
		const g = window.__goose;
		const nodes = g && g.selectAll ? g.selectAll(selector) : Array.from(document.querySelectorAll(selector));
		return nodes.map(n => n.outerHTML).join('\n');
	}`
	XPathJS = `(xpath) => {
		const snap = document.evaluate(xpath, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
		const out = [];
		for (let i = 0; i < snap.snapshotLength; i++) {
			const n = snap.snapshotItem(i);
			out.push(n.outerHTML !== undefined ? n.outerHTML : n.textContent);
		}
		return out.join('\n');
	}`
	TitleJS  = `() => document.title`
	URLJS    = `() => location.href`
	ExistsJS = `(selector) => {
		const g = window.__goose;
		return g && g.select ? g.select(selector) !== null : document.querySelector(selector) !== null;
	}`
)

// Extractor 内容提取器
type Extractor struct {
	env environment.Environment
}

// NewExtractor 创建绑定到 env 的 Extractor 实例
func NewExtractor(env environment.Environment) *Extractor {
	return &Extractor{env: env}
}

// Extract 根据级别提取内容
// level: 提取级别 (full/html/body/content/xpath/css)
// selector: 选择器 (仅用于 xpath 和 css 级别)
func (e *Extractor) Extract(ctx context.Context, level, selector string) (string, error) {
	switch Level(level) {
	case LevelFull:
		return e.extractFull(ctx)
	case LevelHTML:
		return e.eval(ctx, "body HTML", HTMLJS)
	case LevelBody:
		return e.eval(ctx, "body text", BodyJS)
	case LevelContent:
		return e.eval(ctx, "content", ContentJS)
	case LevelXPath:
		if selector == "" {
			return "", fmt.Errorf("selector is required for xpath level")
		}
		return e.eval(ctx, "XPath", XPathJS, selector)
	case LevelCSS:
		if selector == "" {
			return "", fmt.Errorf("selector is required for css level")
		}
		return e.eval(ctx, "CSS selector", CSSJS, selector)
	default:
		return "", fmt.Errorf("unsupported level: %s", level)
	}
}

// extractFull 提取完整HTML文档（包含head）
func (e *Extractor) extractFull(ctx context.Context) (string, error) {
	html, err := e.eval(ctx, "full HTML", FullJS)
	if err != nil {
		return "", err
	}
	if !strings.Contains(html, "<!DOCTYPE") {
		html = "<!DOCTYPE html>\n" + html
	}
	return html, nil
}

// Title 获取页面标题
func (e *Extractor) Title(ctx context.Context) (string, error) {
	return e.eval(ctx, "page title", TitleJS)
}

// URL 获取跳转后的最终页面地址
func (e *Extractor) URL(ctx context.Context) (string, error) {
	return e.eval(ctx, "page URL", URLJS)
}

// Exists 判断选择器是否匹配到元素
func (e *Extractor) Exists(ctx context.Context, selector string) (bool, error) {
	v, err := e.env.EvaluateJs(ctx, ExistsJS, selector)
	if err != nil {
		return false, fmt.Errorf("failed to query '%s': %w", selector, err)
	}
	return v.Bool(), nil
}

func (e *Extractor) eval(ctx context.Context, what, js string, args ...any) (string, error) {
	v, err := e.env.EvaluateJs(ctx, js, args...)
	if err != nil {
		return "", fmt.Errorf("failed to get %s: %w", what, err)
	}
	if v.Nil() {
		return "", nil
	}
	return v.Str(), nil
}
