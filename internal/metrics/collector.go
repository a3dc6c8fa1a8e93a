// Package metrics exports cache statistics to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"goflare.io/graphcache/internal/models"
)

const namespace = "graphcache"

// StatsFunc returns the current statistics snapshot.
type StatsFunc func() models.Snapshot

// Collector is a prometheus.Collector that reads a fresh snapshot on every scrape.
type Collector struct {
	stats StatsFunc

	hits          *prometheus.Desc
	misses        *prometheus.Desc
	sets          *prometheus.Desc
	deletes       *prometheus.Desc
	evictions     *prometheus.Desc
	hitRate       *prometheus.Desc
	localEntries  *prometheus.Desc
	localCapacity *prometheus.Desc
}

// NewCollector creates a collector over stats. constLabels are attached to every series.
func NewCollector(stats StatsFunc, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, constLabels)
	}
	return &Collector{
		stats:         stats,
		hits:          desc("hits_total", "Lookups answered by either tier."),
		misses:        desc("misses_total", "Lookups answered by neither tier."),
		sets:          desc("sets_total", "Values written."),
		deletes:       desc("deletes_total", "Explicit deletions."),
		evictions:     desc("evictions_total", "Local entries removed by LRU overflow or expiry."),
		hitRate:       desc("hit_rate", "hits / (hits + misses), 0 before any lookup."),
		localEntries:  desc("local_entries", "Entries held in the local tier.", "namespace"),
		localCapacity: desc("local_capacity", "Maximum local entries.", "namespace"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.sets
	ch <- c.deletes
	ch <- c.evictions
	ch <- c.hitRate
	ch <- c.localEntries
	ch <- c.localCapacity
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()

	ch <- prometheus.MustNewConstMetric(c.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(c.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(c.sets, prometheus.CounterValue, float64(s.Sets))
	ch <- prometheus.MustNewConstMetric(c.deletes, prometheus.CounterValue, float64(s.Deletes))
	ch <- prometheus.MustNewConstMetric(c.evictions, prometheus.CounterValue, float64(s.Evictions))
	ch <- prometheus.MustNewConstMetric(c.hitRate, prometheus.GaugeValue, s.HitRate)

	for name, ns := range s.Namespaces {
		ch <- prometheus.MustNewConstMetric(c.localEntries, prometheus.GaugeValue, float64(ns.Size), name)
		ch <- prometheus.MustNewConstMetric(c.localCapacity, prometheus.GaugeValue, float64(ns.MaxSize), name)
	}
}
