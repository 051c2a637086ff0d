// metrics.go 上传领域 Prometheus 指标
package upload

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics 上传领域指标
type Metrics struct {
	// UploadsTotal 按结果分类的上传计数（ok / untracked / error）
	UploadsTotal *prometheus.CounterVec

	// MetadataFailures 产物入库成功但元数据追踪失败的次数
	// 该指标升高说明元数据后端不可用或配置有误，需要运维介入
	MetadataFailures prometheus.Counter
}

var (
	metricsOnce sync.Once
	metricsInst *Metrics
)

// newMetrics 创建（或复用）指标实例
// promauto 注册到默认 Registry，进程内只注册一次
func newMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInst = &Metrics{
			UploadsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "storybook_hub",
					Name:      "uploads_total",
					Help:      "Total build uploads by outcome",
				},
				[]string{"outcome"},
			),
			MetadataFailures: promauto.NewCounter(
				prometheus.CounterOpts{
					Namespace: "storybook_hub",
					Name:      "metadata_failures_total",
					Help:      "Uploads that succeeded but failed metadata tracking",
				},
			),
		}
	})
	return metricsInst
}
