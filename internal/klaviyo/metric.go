package klaviyo

import (
	"context"
	"iter"
)

const metricsPath = "metrics/"

// Metrics paginates the metric catalogue.
func (c *Client) Metrics(ctx context.Context) iter.Seq2[Metric, error] {
	return Paginate[MetricAttributes](ctx, c, metricsPath, Query{PageSize: -1})
}

// ListMetrics returns every metric. The catalogue is small enough to hold in memory.
func (c *Client) ListMetrics(ctx context.Context) ([]Metric, error) {
	return CollectAll(c.Metrics(ctx))
}
