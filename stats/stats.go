// Package stats is the relay node's stats aggregator: it rolls delivered
// RelayRecords up into hourly RelayStatsBucket rows, keyed by
// (signal_type, source_server, target_server), and serves windowed queries
// over those buckets plus live buffer state counts.
package stats

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/nohuiam/synapse-relay/store"
	"github.com/nohuiam/synapse-relay/types"
)

const maxRecordsPerTick = 10000

const hourMs = int64(3600_000)

// Aggregator rolls up relay records into stats buckets and answers queries
// over them. Safe for concurrent use; Rollup serializes itself internally
// via the caller's ticker discipline (a single in-flight rollup at a time).
type Aggregator struct {
	store *store.Store
}

// New builds an Aggregator over st.
func New(st *store.Store) *Aggregator {
	return &Aggregator{store: st}
}

type aggKey struct {
	signalType uint16
	source     string
	target     string
}

type accumulator struct {
	total, success, failure int64
	latencySamples          []int64
}

// Rollup computes period_start = floor((now-1h)/1h)*1h, reads every
// RelayRecord since then (capped at 10,000 rows), expands each by target,
// and writes one RelayStatsBucket per aggregation key.
func (a *Aggregator) Rollup(ctx context.Context, now time.Time) (int, error) {
	periodStart := floorToHour(now.Add(-time.Hour).UnixMilli())

	records, err := a.store.ListRelayRecords(ctx, periodStart, 0)
	if err != nil {
		return 0, err
	}
	if len(records) > maxRecordsPerTick {
		records = records[:maxRecordsPerTick]
	}

	acc := make(map[aggKey]*accumulator)
	reachedSet := func(list []string) map[string]struct{} {
		set := make(map[string]struct{}, len(list))
		for _, t := range list {
			set[t] = struct{}{}
		}
		return set
	}

	for _, rec := range records {
		reached := reachedSet(rec.TargetsReached)
		failed := reachedSet(rec.TargetsFailed)
		for _, target := range rec.TargetServers {
			key := aggKey{signalType: rec.SignalType, source: rec.SourceServer, target: target}
			entry, ok := acc[key]
			if !ok {
				entry = &accumulator{}
				acc[key] = entry
			}
			entry.total++
			if _, ok := reached[target]; ok {
				entry.success++
			}
			if _, ok := failed[target]; ok {
				entry.failure++
			}
			if rec.LatencyMs > 0 {
				entry.latencySamples = append(entry.latencySamples, rec.LatencyMs)
			}
		}
	}

	for key, entry := range acc {
		bucket := types.RelayStatsBucket{
			PeriodStart:  periodStart,
			SignalType:   uint16Ptr(key.signalType),
			SourceServer: strPtr(key.source),
			TargetServer: strPtr(key.target),
			TotalRelayed: entry.total,
			SuccessCount: entry.success,
			FailureCount: entry.failure,
		}
		if len(entry.latencySamples) > 0 {
			avg, max := summarizeLatency(entry.latencySamples)
			bucket.AvgLatencyMs = &avg
			bucket.MaxLatencyMs = &max
		}
		if _, err := a.store.InsertStatsBucket(ctx, bucket); err != nil {
			return len(acc), err
		}
	}

	return len(acc), nil
}

func floorToHour(ms int64) int64 {
	return (ms / hourMs) * hourMs
}

func summarizeLatency(samples []int64) (avg float64, max int64) {
	var sum int64
	for _, s := range samples {
		sum += s
		if s > max {
			max = s
		}
	}
	avg = float64(sum) / float64(len(samples))
	return avg, max
}

func uint16Ptr(v uint16) *uint16 { return &v }
func strPtr(v string) *string    { return &v }

// GroupBy selects which key a Query's by_group breakdown is bucketed on.
type GroupBy string

const (
	GroupBySignalType GroupBy = "signal_type"
	GroupBySource      GroupBy = "source"
	GroupByTarget      GroupBy = "target"
	GroupByHour        GroupBy = "hour"
	GroupByDay         GroupBy = "day"
)

// Query is a get_relay_stats request.
type Query struct {
	Since   int64
	Until   int64
	GroupBy GroupBy
}

// GroupStat is one by_group entry.
type GroupStat struct {
	Count       int64
	SuccessRate float64
	AvgLatency  float64
}

// Result is the get_relay_stats response shape.
type Result struct {
	TotalRelayed int64
	SuccessRate  float64
	AvgLatencyMs float64
	ByGroup      map[string]GroupStat
	BufferStats  map[types.BufferedSignalStatus]int
}

// Query answers a get_relay_stats request by reading stored buckets in
// [since, until] (until == 0 means no upper bound) and aggregating.
func (a *Aggregator) Query(ctx context.Context, q Query) (Result, error) {
	buckets, err := a.store.ListStatsBuckets(ctx, q.Since, q.Until)
	if err != nil {
		return Result{}, err
	}

	var totalRelayed, totalSuccess int64
	var weightedLatency, weightSum float64
	groups := make(map[string]*struct {
		count, success int64
		weightedLat    float64
		weight         float64
	})

	for _, b := range buckets {
		totalRelayed += b.TotalRelayed
		totalSuccess += b.SuccessCount
		if b.AvgLatencyMs != nil {
			weightedLatency += *b.AvgLatencyMs * float64(b.TotalRelayed)
			weightSum += float64(b.TotalRelayed)
		}

		if q.GroupBy == "" {
			continue
		}
		key, ok := groupKey(b, q.GroupBy)
		if !ok {
			continue
		}
		g, exists := groups[key]
		if !exists {
			g = &struct {
				count, success int64
				weightedLat    float64
				weight         float64
			}{}
			groups[key] = g
		}
		g.count += b.TotalRelayed
		g.success += b.SuccessCount
		if b.AvgLatencyMs != nil {
			g.weightedLat += *b.AvgLatencyMs * float64(b.TotalRelayed)
			g.weight += float64(b.TotalRelayed)
		}
	}

	result := Result{TotalRelayed: totalRelayed}
	if totalRelayed > 0 {
		result.SuccessRate = round2(float64(totalSuccess) / float64(totalRelayed) * 100)
	}
	if weightSum > 0 {
		result.AvgLatencyMs = round2(weightedLatency / weightSum)
	}

	if q.GroupBy != "" {
		byGroup := make(map[string]GroupStat, len(groups))
		for key, g := range groups {
			stat := GroupStat{Count: g.count}
			if g.count > 0 {
				stat.SuccessRate = round2(float64(g.success) / float64(g.count) * 100)
			}
			if g.weight > 0 {
				stat.AvgLatency = round2(g.weightedLat / g.weight)
			}
			byGroup[key] = stat
		}
		result.ByGroup = byGroup
	}

	counts, err := a.store.BufferStateCounts(ctx)
	if err != nil {
		return result, err
	}
	result.BufferStats = counts
	return result, nil
}

func groupKey(b types.RelayStatsBucket, groupBy GroupBy) (string, bool) {
	switch groupBy {
	case GroupBySignalType:
		if b.SignalType == nil {
			return "", false
		}
		return fmt.Sprintf("signal_%d", *b.SignalType), true
	case GroupBySource:
		if b.SourceServer == nil {
			return "", false
		}
		return *b.SourceServer, true
	case GroupByTarget:
		if b.TargetServer == nil {
			return "", false
		}
		return *b.TargetServer, true
	case GroupByHour:
		return time.UnixMilli(b.PeriodStart).UTC().Format("2006-01-02T15"), true
	case GroupByDay:
		return time.UnixMilli(b.PeriodStart).UTC().Format("2006-01-02"), true
	default:
		return "", false
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
