package credits

import (
	"fmt"
	"strings"
)

// OperationKind 计费操作类型
type OperationKind string

const (
	KindParse    OperationKind = "parse"    // 文档解析
	KindGenerate OperationKind = "generate" // AI 文本生成
	KindRetrieve OperationKind = "retrieve" // 向量检索
)

// Provider 外部服务标识，每种操作类型对应一个服务
type Provider string

const (
	ProviderUnstructured Provider = "unstructured"
	ProviderOpenAI       Provider = "openai"
	ProviderRagie        Provider = "ragie"
)

// Kinds 返回全部操作类型
func Kinds() []OperationKind {
	return []OperationKind{KindParse, KindGenerate, KindRetrieve}
}

// ParseKind 解析操作类型字符串
func ParseKind(s string) (OperationKind, error) {
	kind := OperationKind(strings.ToLower(strings.TrimSpace(s)))
	switch kind {
	case KindParse, KindGenerate, KindRetrieve:
		return kind, nil
	default:
		return "", fmt.Errorf("未知的操作类型: %q", s)
	}
}

// Provider 返回执行该操作的外部服务
func (k OperationKind) Provider() Provider {
	switch k {
	case KindParse:
		return ProviderUnstructured
	case KindGenerate:
		return ProviderOpenAI
	case KindRetrieve:
		return ProviderRagie
	default:
		panic(fmt.Sprintf("credits: unhandled operation kind %q", string(k)))
	}
}

// DisplayName 面向用户的服务名称
func (p Provider) DisplayName() string {
	switch p {
	case ProviderUnstructured:
		return "Unstructured"
	case ProviderOpenAI:
		return "OpenAI"
	case ProviderRagie:
		return "Ragie"
	default:
		return string(p)
	}
}
