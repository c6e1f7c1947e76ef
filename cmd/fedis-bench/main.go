// Command fedis-bench drives a throughput scenario against a multi-node
// federation: many outer batches of SET commands, followed by a GET
// readback pass, reporting batch latency percentiles.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/beyondkv/fedis"
)

type options struct {
	addrs          string
	batches        int
	commandsPerSet int
	getPasses      int
	commandTimeout time.Duration
	idleTimeout    time.Duration
	persistent     bool
}

func main() {
	opts := parseFlags()
	logger := log.New(os.Stdout, "fedis-bench ", log.LstdFlags)

	addrs := strings.Split(opts.addrs, ",")
	nodes := make(map[string]fedis.NodeDescriptor, len(addrs))
	for i, addr := range addrs {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			continue
		}
		nodes[fmt.Sprintf("redis_%d", i)] = fedis.NodeDescriptor{Address: addr}
	}
	if len(nodes) == 0 {
		logger.Fatalf("no backend addresses given (-addrs)")
	}

	client, err := fedis.New(fedis.Options{
		Nodes:          nodes,
		CommandTimeout: &opts.commandTimeout,
		IdleTimeout:    opts.idleTimeout,
		Persistent:     opts.persistent,
	})
	if err != nil {
		logger.Fatalf("fedis.New: %v", err)
	}
	defer client.Close()

	logger.Printf("set phase: %d batches x %d commands against %d nodes", opts.batches, opts.commandsPerSet, len(nodes))
	setLatencies := runSetPhase(client, opts, logger)
	printSummary(logger, "set", setLatencies)

	logger.Printf("get phase: %d passes", opts.getPasses)
	getLatencies, hits, misses := runGetPhase(client, opts, logger)
	printSummary(logger, "get", getLatencies)
	logger.Printf("get hits=%d misses=%d", hits, misses)
}

func parseFlags() options {
	opts := options{}
	flag.StringVar(&opts.addrs, "addrs", "localhost:6379", "Comma-separated backend host:port list, one logical node per address")
	flag.IntVar(&opts.batches, "batches", 5000, "Number of outer SET batches")
	flag.IntVar(&opts.commandsPerSet, "commands-per-batch", 20, "Number of SET commands dispatched per batch before polling")
	flag.IntVar(&opts.getPasses, "get-passes", 5000, "Number of GET+poll passes in the readback phase")
	flag.DurationVar(&opts.commandTimeout, "command-timeout", time.Second, "Per-batch command timeout")
	flag.DurationVar(&opts.idleTimeout, "idle-timeout", 0, "Connection idle-expiry; 0 disables")
	flag.BoolVar(&opts.persistent, "persistent", true, "Reuse connections across batches")
	flag.Parse()

	if opts.batches <= 0 {
		opts.batches = 1
	}
	if opts.commandsPerSet <= 0 {
		opts.commandsPerSet = 1
	}
	if opts.getPasses <= 0 {
		opts.getPasses = 1
	}
	return opts
}

func runSetPhase(client *fedis.Client, opts options, logger *log.Logger) []int64 {
	latencies := make([]int64, opts.batches)
	var errs int64
	for b := 0; b < opts.batches; b++ {
		start := time.Now()
		for i := 0; i < opts.commandsPerSet; i++ {
			key := fmt.Sprintf("foo%d", i)
			value := fmt.Sprintf("bar%d", i)
			client.Set(key, value, func(r fedis.Reply) {
				if r == nil {
					atomic.AddInt64(&errs, 1)
				}
			})
		}
		client.Poll()
		latencies[b] = time.Since(start).Microseconds()
	}
	if errs > 0 {
		logger.Printf("set phase: %d commands did not complete (refused, timed out, or errored)", errs)
	}
	return latencies
}

func runGetPhase(client *fedis.Client, opts options, logger *log.Logger) ([]int64, int64, int64) {
	latencies := make([]int64, opts.getPasses)
	var hits, misses int64
	for i := 0; i < opts.getPasses; i++ {
		start := time.Now()
		client.Get("foo1", func(r fedis.Reply) {
			if bulk, ok := r.(fedis.ReplyBulk); ok && bulk.String() == "bar1" {
				atomic.AddInt64(&hits, 1)
			} else {
				atomic.AddInt64(&misses, 1)
			}
		})
		client.Poll()
		latencies[i] = time.Since(start).Microseconds()
	}
	return latencies, hits, misses
}

func printSummary(logger *log.Logger, label string, latencies []int64) {
	if len(latencies) == 0 {
		logger.Printf("%s: no samples", label)
		return
	}
	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	logger.Printf("%s latency (ms): avg=%.3f p50=%.3f p95=%.3f p99=%.3f min=%.3f max=%.3f",
		label,
		toMillis(average(sorted)),
		toMillis(percentile(sorted, 50)),
		toMillis(percentile(sorted, 95)),
		toMillis(percentile(sorted, 99)),
		toMillis(sorted[0]),
		toMillis(sorted[len(sorted)-1]),
	)
}

func average(values []int64) int64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return sum / int64(len(values))
}

func percentile(values []int64, pct int) int64 {
	if len(values) == 0 {
		return 0
	}
	if pct <= 0 {
		return values[0]
	}
	if pct >= 100 {
		return values[len(values)-1]
	}
	rank := (float64(pct) / 100) * float64(len(values)-1)
	index := int(rank + 0.5)
	if index >= len(values) {
		index = len(values) - 1
	}
	return values[index]
}

func toMillis(value int64) float64 {
	return float64(value) / 1000
}
