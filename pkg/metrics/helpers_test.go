package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

// histogram returns the series of name whose labels include every pair in
// want. Counters and gauges are read with testutil.ToFloat64 instead.
func histogram(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) *dto.Histogram {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, series := range family.GetMetric() {
			if hasLabels(series, want) {
				return series.GetHistogram()
			}
		}
	}
	t.Fatalf("histogram %s%v not exported", name, want)
	return nil
}

func hasLabels(series *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, pair := range series.GetLabel() {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
