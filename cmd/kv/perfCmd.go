package kv

import (
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dRing/cmd/util"
	"github.com/ValentinKolb/dRing/rpc/common"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for dRing clusters",
		RunE:    run,
		PreRunE: processPerfConfig,
	}
	perfKeyPrefix        = "__test"
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfKeySpread        = 100
	perfDuration         = 5 * time.Second
	perfSkip             = make([]string, 0)
)

// benchmark is a single perf test. prepare runs before the clock starts and
// op is called concurrently by every thread
type benchmark struct {
	name    string
	prepare bool
	op      func(key string, i int) error
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. set,get)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the value for the set-large test should be (in KB)"))
	key = "keys"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "duration"
	perfTestCmd.Flags().Int(key, 5, util.WrapString("How long each benchmark runs (in seconds)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfKeySpread = max(1, viper.GetInt("keys"))
	perfNumThreads = max(1, viper.GetInt("threads"))
	perfDuration = time.Duration(max(1, viper.GetInt("duration"))) * time.Second
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func run(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for dRing clusters")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Ring: %d buckets, %d members\n", rpcStore.Ring().BucketCount(), len(rpcStore.Ring().Members()))
	fmt.Printf("Threads: %d, Duration: %s\n", perfNumThreads, perfDuration)
	fmt.Println()

	fmt.Println("starting tests...")

	value := []byte("test")
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	benchmarks := []benchmark{
		{name: "set", op: func(key string, _ int) error {
			return rpcStore.Set(key, value)
		}},
		{name: "set-large", op: func(key string, _ int) error {
			return rpcStore.Set(key, largeValue)
		}},
		{name: "get", prepare: true, op: func(key string, _ int) error {
			_, _, err := rpcStore.Get(key)
			return err
		}},
		{name: "delete", prepare: true, op: func(key string, _ int) error {
			return rpcStore.Delete(key)
		}},
		{name: "has", prepare: true, op: func(key string, _ int) error {
			_, err := rpcStore.Has(key)
			return err
		}},
		{name: "has-not", op: func(_ string, i int) error {
			_, err := rpcStore.Has(fmt.Sprintf("%s/has-not-%d", perfKeyPrefix, i%100))
			return err
		}},
		{name: "mixed", prepare: true, op: func(key string, i int) error {
			var err error
			switch i % 4 {
			case 0:
				err = rpcStore.Set(key, value)
			case 1:
				_, _, err = rpcStore.Get(key)
			case 2:
				err = rpcStore.Delete(key)
			case 3:
				_, err = rpcStore.Has(key)
			}
			return err
		}},
	}

	// one registry per run, the timers are named after the benchmarks
	registry := gometrics.NewRegistry()
	for _, b := range benchmarks {
		if slices.Contains(perfSkip, b.name) {
			printResult(b.name, nil)
			continue
		}
		timer := runBenchmark(b, registry)
		printResult(b.name, timer)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, benchmarks, registry, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// runBenchmark runs b on perfNumThreads goroutines for perfDuration and
// returns the timer holding the latency of every call
func runBenchmark(b benchmark, registry gometrics.Registry) gometrics.Timer {
	timer := gometrics.GetOrRegisterTimer(b.name, registry)
	failures := gometrics.GetOrRegisterCounter(b.name+".errors", registry)

	getKey, iter := getKeys(b.name)
	if b.prepare {
		iter(func(k string) {
			if err := rpcStore.Set(k, []byte("test")); err != nil {
				log.Printf("(%s) - error setting key: %v\n", b.name, err)
			}
		})
	}
	defer iter(func(k string) {
		if err := rpcStore.Delete(k); err != nil {
			log.Printf("(%s) - error deleting key: %v\n", b.name, err)
		}
	})

	deadline := time.Now().Add(perfDuration)
	var wg sync.WaitGroup
	for thread := 0; thread < perfNumThreads; thread++ {
		wg.Add(1)
		go func(offset int) {
			defer wg.Done()
			for counter := offset; time.Now().Before(deadline); counter++ {
				var err error
				timer.Time(func() { err = b.op(getKey(counter), counter) })
				if err != nil {
					failures.Inc(1)
					log.Printf("(%s) - error: %v\n", b.name, err)
				}
			}
		}(thread * perfKeySpread / perfNumThreads)
	}
	wg.Wait()
	return timer
}

// creates an array of test keys and functions to work with them
func getKeys(prefix string) (func(int) string, func(func(string))) {
	keys := make([]string, perfKeySpread)
	for i := 0; i < perfKeySpread; i++ {
		keys[i] = fmt.Sprintf("%s-%s-%d", perfKeyPrefix, prefix, i)
	}

	// Function to get a key by index (with wraparound)
	getKey := func(i int) string {
		return keys[i%perfKeySpread]
	}

	// Function to iterate over all keys and apply a function to each
	iterateKeys := func(fn func(string)) {
		for _, key := range keys {
			fn(key)
		}
	}

	return getKey, iterateKeys
}

// printResult prints the result of a benchmark in a formatted way
func printResult(test string, timer gometrics.Timer) {
	if timer == nil || timer.Count() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	snap := timer.Snapshot()
	fmt.Printf("%-20s%s/op (p50 %s, p99 %s)\t%.0f ops/sec\n",
		test,
		time.Duration(snap.Mean()),
		time.Duration(snap.Percentile(0.5)),
		time.Duration(snap.Percentile(0.99)),
		float64(snap.Count())/perfDuration.Seconds(),
	)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, benchmarks []benchmark, registry gometrics.Registry, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "Count", "Errors", "MeanNs", "P50Ns", "P99Ns", "OpsPerSec", "Skipped",
		"Seeds", "TimeoutSec", "RetryCount", "Members", "Buckets",
		"Threads", "LargeValueSizeKB", "Keys Count", "DurationSec",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for _, b := range benchmarks {
		var count, errs int64
		var mean, p50, p99, opsPerSec float64
		skipped := "true"

		if timer, ok := registry.Get(b.name).(gometrics.Timer); ok && timer.Count() > 0 {
			snap := timer.Snapshot()
			skipped = "false"
			count = snap.Count()
			mean, p50, p99 = snap.Mean(), snap.Percentile(0.5), snap.Percentile(0.99)
			opsPerSec = float64(count) / perfDuration.Seconds()
		}
		if counter, ok := registry.Get(b.name + ".errors").(gometrics.Counter); ok {
			errs = counter.Count()
		}

		row := []string{
			b.name,
			strconv.FormatInt(count, 10),
			strconv.FormatInt(errs, 10),
			fmt.Sprintf("%.0f", mean),
			fmt.Sprintf("%.0f", p50),
			fmt.Sprintf("%.0f", p99),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			strings.Join(config.Seeds, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.Retries()),
			strconv.Itoa(len(rpcStore.Ring().Members())),
			strconv.Itoa(rpcStore.Ring().BucketCount()),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
			strconv.Itoa(perfKeySpread),
			strconv.Itoa(int(perfDuration.Seconds())),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", b.name, err)
		}
	}

	return nil
}
