package extractors

import (
	"fmt"
	"strings"

	"github.com/RecoveryAshes/codexharvest/internal/browser"
)

// Chains 任务页面所有字段的策略链
type Chains struct {
	Prompt   Chain
	Logs     Chain
	Metadata []Chain // Field为元数据键
	Changes  []Chain // additions/deletions,归入metadata["changes"]
	Summary  []Chain // Field为摘要段落键
	Files    Chain
	Links    Chain
}

// 元数据与摘要的键
const (
	MetaDate        = "date"
	MetaRepository  = "repository"
	MetaPRStats     = "pr_stats"
	MetaStatus      = "status"
	MetaPullRequest = "github_pr_url"
	MetaChanges     = "changes"
)

var promptKeywords = []string{"The", "Fix", "Add", "Update", "Implement"}

var fileExtensions = []string{".py", ".html", ".js", ".ts", ".css", ".json", ".md", ".go", ".yaml", ".toml"}

var summarySections = []string{"Summary", "Notes", "Testing", "Description"}

// DefaultChains 任务页面的默认策略
// 页面样式类名随部署变化,靠前的策略更精确,靠后的更宽泛
func DefaultChains() Chains {
	return Chains{
		Prompt:   promptChain(),
		Logs:     logsChain(),
		Metadata: metadataChains(),
		Changes:  changesChains(),
		Summary:  summaryChains(),
		Files:    filesChain(),
		Links:    linksChain(),
	}
}

func promptChain() Chain {
	strategies := []Strategy{
		{ID: "prompt.exact-class", Selector: browser.CSSSelector("div.px-4.text-sm.break-words.whitespace-pre-wrap")},
		{ID: "prompt.pre-wrap", Selector: browser.CSSSelector(`div[class*="whitespace-pre-wrap"]`), Priority: 1},
		{ID: "prompt.break-words", Selector: browser.CSSSelector(`div[class*="break-words"][class*="text-sm"]`), Priority: 2},
	}
	for _, kw := range promptKeywords {
		strategies = append(strategies, Strategy{
			ID:       "prompt.keyword-" + strings.ToLower(kw),
			Selector: browser.TextSelector("div", kw),
			Priority: 3,
			Limit:    20,
		})
	}
	strategies = append(strategies, Strategy{
		ID:       "prompt.long-text",
		Selector: browser.CSSSelector("div"),
		Priority: 4,
		Limit:    20,
		Applies: func(text string) bool {
			n := runeLen(text)
			return n >= 50 && n <= 1000 && !strings.HasPrefix(text, "⠙") && !strings.Contains(text, "KiB")
		},
	})
	return Chain{Field: "prompt", Strategies: strategies, Filter: PromptFilter}
}

func logsChain() Chain {
	selectors := []struct {
		id  string
		css string
	}{
		{"logs.scroll-exact", "div.react-scroll-to-bottom--css-siqfy-1n7m0yu"},
		{"logs.scroll-to-bottom", `[class*="react-scroll-to-bottom"]`},
		{"logs.scroll", `div[class*="scroll"]`},
		{"logs.role", `[role="log"]`},
		{"logs.pre", "pre"},
		{"logs.code", "code"},
		{"logs.overflow", `div[class*="overflow-auto"]`},
	}
	strategies := make([]Strategy, 0, len(selectors)+1)
	for i, s := range selectors {
		strategies = append(strategies, Strategy{
			ID:       s.id,
			Selector: browser.CSSSelector(s.css),
			Priority: i,
			Limit:    5,
		})
	}
	strategies = append(strategies, Strategy{
		ID:       "logs.flex-fallback",
		Selector: browser.CSSSelector(`div[class*="flex-1"]`),
		Priority: len(selectors),
		Limit:    20,
		Applies:  ContainsAnyFold("ruff", "pytest", "error"),
	})
	return Chain{Field: "logs", Strategies: strategies, Filter: LogsFilter, NeedMarkup: true}
}

func metadataChains() []Chain {
	return []Chain{
		{
			Field: MetaDate,
			Strategies: []Strategy{
				{ID: "date.time", Selector: browser.CSSSelector("time")},
				{ID: "date.month", Selector: browser.CSSSelector("div, span"), Priority: 1, Applies: LooksLikeDate},
				{ID: "date.gray-year", Selector: browser.TextSelector(`[class*="text-gray"]`, "202"), Priority: 2},
			},
			Filter: MaxLen(50),
		},
		{
			Field: MetaRepository,
			Strategies: []Strategy{
				{ID: "repository.github-link", Selector: browser.CSSSelector(`a[href*="github.com"]`), Applies: LooksLikeRepository},
				{ID: "repository.slug", Selector: browser.TextSelector("div, span", "/"), Priority: 1, Applies: LooksLikeRepository},
			},
			Filter: All(ContainsAll("/"), MaxLen(100)),
		},
		{
			Field: MetaPRStats,
			Strategies: []Strategy{
				{ID: "pr_stats.text", Selector: browser.TextSelector("div, span", "+"), Applies: LooksLikeStats},
				{ID: "pr_stats.green", Selector: browser.TextSelector(`[class*="text-green"]`, "+"), Priority: 1},
			},
			Filter: All(ContainsAll("+", "-"), MaxLen(30)),
		},
		{
			Field: MetaStatus,
			Strategies: []Strategy{
				{ID: "status.link-merged", Selector: browser.TextSelector("a", "Merged")},
				{ID: "status.link-closed", Selector: browser.TextSelector("a", "Closed")},
				{ID: "status.badge", Selector: browser.CSSSelector(`[class*="badge"]`), Priority: 1,
					Applies: ContainsAnyFold("Merged", "Closed", "Failed", "Open")},
				{ID: "status.failed", Selector: browser.TextSelector("div, span", "Failed"), Priority: 2},
				{ID: "status.merged", Selector: browser.TextSelector("div, span", "Merged"), Priority: 2},
			},
			Filter: MaxLen(20),
		},
		{
			Field: MetaPullRequest,
			Strategies: []Strategy{
				{ID: "github_pr_url.href", Selector: browser.CSSSelector(`a[href*="github.com"][href*="/pull/"]`),
					Source: SourceAttr, Attr: "href"},
			},
			Filter: PullRequestFilter,
		},
	}
}

func changesChains() []Chain {
	return []Chain{
		{
			Field: "additions",
			Strategies: []Strategy{
				{ID: "changes.green", Selector: browser.CSSSelector(`span[class*="text-green-500"]`)},
			},
			Filter: addedPattern.MatchString,
		},
		{
			Field: "deletions",
			Strategies: []Strategy{
				{ID: "changes.red", Selector: browser.CSSSelector(`span[class*="text-red-500"]`)},
			},
			Filter: deletePattern.MatchString,
		},
	}
}

func summaryChains() []Chain {
	chains := make([]Chain, 0, len(summarySections))
	for _, section := range summarySections {
		key := strings.ToLower(section)
		var strategies []Strategy
		for i, tag := range []string{"strong", "h2", "h3"} {
			strategies = append(strategies, Strategy{
				ID:       fmt.Sprintf("summary.%s-%s", key, tag),
				Selector: browser.Selector{CSS: tag, HasText: section, Exact: true},
				Source:   SourceParentText,
				Priority: i,
			})
		}
		chains = append(chains, Chain{Field: key, Strategies: strategies, Filter: MinLen(len(section))})
	}
	return chains
}

func filesChain() Chain {
	var strategies []Strategy
	for _, ext := range fileExtensions {
		strategies = append(strategies, Strategy{
			ID:       "files.button" + ext,
			Selector: browser.TextSelector("button", ext),
			Limit:    10,
		})
	}
	for _, ext := range []string{".py", ".html"} {
		strategies = append(strategies, Strategy{
			ID:       "files.link" + ext,
			Selector: browser.CSSSelector(fmt.Sprintf(`a[href*="%s"]`, ext)),
			Priority: 1,
			Limit:    10,
		})
	}
	return Chain{Field: "files", Strategies: strategies, Filter: FilePathFilter}
}

func linksChain() Chain {
	return Chain{
		Field: "links",
		Strategies: []Strategy{
			{ID: "links.github-pull", Selector: browser.CSSSelector(`a[href*="github.com"][href*="pull"]`), Source: SourceAttr, Attr: "href"},
			{ID: "links.view-pr", Selector: browser.TextSelector("a", "View Pull Request"), Source: SourceAttr, Attr: "href", Priority: 1},
			{ID: "links.view-github", Selector: browser.TextSelector("a", "View on GitHub"), Source: SourceAttr, Attr: "href", Priority: 1},
		},
		Filter: LinkFilter,
	}
}

// Validate 检查所有策略的选择器语法与ID唯一性
func (c Chains) Validate() error {
	all := []Chain{c.Prompt, c.Logs, c.Files, c.Links}
	all = append(all, c.Metadata...)
	all = append(all, c.Changes...)
	all = append(all, c.Summary...)

	seen := make(map[string]bool)
	for _, chain := range all {
		if len(chain.Strategies) == 0 {
			return fmt.Errorf("字段 %s 没有任何策略", chain.Field)
		}
		for _, s := range chain.Strategies {
			if seen[s.ID] {
				return fmt.Errorf("策略ID重复: %s", s.ID)
			}
			seen[s.ID] = true
			if err := s.Selector.Validate(); err != nil {
				return fmt.Errorf("策略 %s: %w", s.ID, err)
			}
			if s.Source == SourceAttr && s.Attr == "" {
				return fmt.Errorf("策略 %s: 读取属性但未指定属性名", s.ID)
			}
		}
	}
	return nil
}
