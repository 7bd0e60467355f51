package engine

import (
	"context"
	"testing"
)

// Throughput of a full run, reported as bars/s
func BenchmarkRun(b *testing.B) {
	for _, tc := range []struct {
		name string
		days int
		cfg  func(*Config)
	}{
		{"default", 20, nil},
		{"all_levels", 20, func(c *Config) {
			c.VWAP, c.RoundNumbers, c.Gaps, c.SinglePrints = true, true, true, true
			c.DynamicDayHighLow, c.DynamicTarget, c.DistanceReset, c.OpeningRangeFilter = true, true, true, true
		}},
	} {
		b.Run(tc.name, func(b *testing.B) {
			bars := syntheticFeed(11, tc.days)
			cfg := DefaultConfig()
			cfg.Timezone = "UTC"
			if tc.cfg != nil {
				tc.cfg(&cfg)
			}
			eng, err := New(cfg)
			if err != nil {
				b.Fatal(err)
			}
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := eng.Run(context.Background(), bars); err != nil {
					b.Fatal(err)
				}
			}
			b.ReportMetric(float64(len(bars)*b.N)/b.Elapsed().Seconds(), "bars/s")
		})
	}
}
