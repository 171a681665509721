package qa

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter 文本 Token 计数
type TokenCounter interface {
	Count(text string) int
	Truncate(text string, maxTokens int) string
}

// NewTokenCounter 使用 cl100k_base 编码，编码不可用时退回按字符估算
func NewTokenCounter() TokenCounter {
	tkm, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return RuneCounter{}
	}
	return &tiktokenCounter{tkm: tkm}
}

type tiktokenCounter struct {
	tkm *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.tkm.Encode(text, nil, nil))
}

func (c *tiktokenCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	tokens := c.tkm.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text
	}
	return c.tkm.Decode(tokens[:maxTokens])
}

// RuneCounter 粗略估算：约 4 个字符一个 Token
type RuneCounter struct{}

// Count 估算 Token 数
func (RuneCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Truncate 按估算截断
func (RuneCounter) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	limit := maxTokens * 4
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	return string([]rune(text)[:limit])
}

// budgetPassages 按相关度顺序拼接段落，总量不超过 maxTokens
func budgetPassages(counter TokenCounter, passages []string, maxTokens int) string {
	var b strings.Builder
	used := 0
	for i, p := range passages {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		remaining := maxTokens - used
		if remaining <= 0 {
			break
		}
		n := counter.Count(p)
		if n > remaining {
			p = counter.Truncate(p, remaining)
			n = remaining
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, p)
		used += n
	}
	return b.String()
}
