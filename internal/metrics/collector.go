package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DocumentsByStatus 文档数量，按检索状态
var DocumentsByStatus = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "docbrain_documents",
		Help: "文档数量（按检索状态）",
	},
	[]string{"status"},
)

// SystemCollector 定期采集数据库连接和文档状态
type SystemCollector struct {
	db       *sql.DB
	interval time.Duration
	// countDocuments 按状态统计文档，可为空
	countDocuments func(ctx context.Context) (map[string]int64, error)
}

// NewSystemCollector 创建采集器，Run 之后开始工作
func NewSystemCollector(db *sql.DB, countDocuments func(ctx context.Context) (map[string]int64, error)) *SystemCollector {
	return &SystemCollector{
		db:             db,
		interval:       15 * time.Second,
		countDocuments: countDocuments,
	}
}

// Run 采集直到 ctx 结束
func (c *SystemCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.collectOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.collectOnce(ctx)
		}
	}
}

func (c *SystemCollector) collectOnce(ctx context.Context) {
	if c.db != nil {
		stats := c.db.Stats()
		DBConnections.WithLabelValues("open").Set(float64(stats.OpenConnections))
		DBConnections.WithLabelValues("in_use").Set(float64(stats.InUse))
		DBConnections.WithLabelValues("idle").Set(float64(stats.Idle))
	}

	if c.countDocuments != nil {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		counts, err := c.countDocuments(ctx)
		if err != nil {
			return
		}
		for status, n := range counts {
			DocumentsByStatus.WithLabelValues(status).Set(float64(n))
		}
	}
}
