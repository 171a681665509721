package credits

import (
	"fmt"
	"strconv"
	"strings"
)

// 默认积分成本
const (
	DefaultParseCost    int64 = 5
	DefaultGenerateCost int64 = 3
	DefaultRetrieveCost int64 = 8
)

// CostTable 操作类型到积分成本的映射，构建后只读
type CostTable struct {
	parse    int64
	generate int64
	retrieve int64
}

// NewCostTable 使用部署配置覆盖默认成本
// overrides 的键为操作类型，值为原始字符串；非整数或非正数时静默回退默认值
func NewCostTable(overrides map[string]string) *CostTable {
	t := &CostTable{
		parse:    DefaultParseCost,
		generate: DefaultGenerateCost,
		retrieve: DefaultRetrieveCost,
	}
	for raw, value := range overrides {
		kind, err := ParseKind(raw)
		if err != nil {
			continue
		}
		cost, ok := parseCost(value)
		if !ok {
			continue
		}
		switch kind {
		case KindParse:
			t.parse = cost
		case KindGenerate:
			t.generate = cost
		case KindRetrieve:
			t.retrieve = cost
		}
	}
	return t
}

func parseCost(value string) (int64, bool) {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// CostOf 返回操作所需积分
func (t *CostTable) CostOf(kind OperationKind) int64 {
	switch kind {
	case KindParse:
		return t.parse
	case KindGenerate:
		return t.generate
	case KindRetrieve:
		return t.retrieve
	default:
		panic(fmt.Sprintf("credits: unhandled operation kind %q", string(kind)))
	}
}

// Snapshot 返回全部成本，供接口展示
func (t *CostTable) Snapshot() map[OperationKind]int64 {
	out := make(map[OperationKind]int64, 3)
	for _, kind := range Kinds() {
		out[kind] = t.CostOf(kind)
	}
	return out
}
