// Sustained write load against lpcodec serve.
// Usage: go run ./benchmarks/write_bench [flags]
//
// Examples:
//
//	go run ./benchmarks/write_bench --duration 30
//	go run ./benchmarks/write_bench --workers 50 --compress zstd
//	go run ./benchmarks/write_bench --data-type financial --endpoint v1
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basekick-labs/lineprotocol/internal/ingest"
	"github.com/basekick-labs/lineprotocol/pkg/lineprotocol"
)

type Config struct {
	Duration    int
	Workers     int
	BatchSize   int
	Pregenerate int
	Compress    string
	DataType    string
	Endpoint    string // v1 or v2
	Host        string
	Port        int
}

type Stats struct {
	totalSent   atomic.Int64
	totalErrors atomic.Int64
	running     atomic.Bool
	// One latency slice per worker, merged at the end
	workerLatencies [][]float64
}

func (s *Stats) initWorkers(n int) {
	s.workerLatencies = make([][]float64, n)
	for i := range s.workerLatencies {
		s.workerLatencies[i] = make([]float64, 0, 10000)
	}
}

func (s *Stats) getPercentile(p float64) float64 {
	var all []float64
	for _, wl := range s.workerLatencies {
		all = append(all, wl...)
	}
	if len(all) == 0 {
		return 0
	}
	sort.Float64s(all)

	idx := int(float64(len(all)) * p)
	if idx >= len(all) {
		idx = len(all) - 1
	}
	return all[idx]
}

// pointFor builds one random point of the given data type.
func pointFor(dataType string, ts int64, hosts []string) *lineprotocol.Point {
	if dataType == "financial" {
		symbols := []string{"AAPL", "GOOGL", "MSFT", "AMZN", "META", "NVDA", "TSLA", "JPM", "V", "JNJ"}
		exchanges := []string{"NYSE", "NASDAQ", "ARCA", "BATS", "IEX"}
		price := 10 + rand.Float64()*490
		return (&lineprotocol.Point{Measurement: "trades"}).
			AddTag("symbol", symbols[rand.Intn(len(symbols))]).
			AddTag("exchange", exchanges[rand.Intn(len(exchanges))]).
			AddField("price", lineprotocol.FloatValue(price)).
			AddField("bid", lineprotocol.FloatValue(price-rand.Float64()*0.04-0.01)).
			AddField("ask", lineprotocol.FloatValue(price+rand.Float64()*0.04+0.01)).
			AddField("volume", lineprotocol.IntValue(int64(1+rand.Intn(999)))).
			SetTimestamp(ts)
	}

	return (&lineprotocol.Point{Measurement: "cpu"}).
		AddTag("host", hosts[rand.Intn(len(hosts))]).
		AddField("value", lineprotocol.FloatValue(rand.Float64()*100)).
		AddField("cpu_idle", lineprotocol.FloatValue(rand.Float64()*100)).
		AddField("cpu_user", lineprotocol.FloatValue(rand.Float64()*100)).
		SetTimestamp(ts)
}

func generateBatches(cfg *Config) ([][]byte, error) {
	hosts := make([]string, 1000)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("server%03d", i)
	}
	compression, err := ingest.ParseCompression(cfg.Compress)
	if err != nil {
		return nil, err
	}

	batches := make([][]byte, cfg.Pregenerate)
	for i := range batches {
		var buf bytes.Buffer
		w, err := ingest.OpenOutput(&buf, compression)
		if err != nil {
			return nil, err
		}
		enc := lineprotocol.NewEncoder(w)

		now := time.Now().UnixNano()
		for j := 0; j < cfg.BatchSize; j++ {
			if err := enc.Encode(pointFor(cfg.DataType, now+int64(j), hosts)); err != nil {
				return nil, err
			}
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		batches[i] = buf.Bytes()

		if (i+1)%100 == 0 {
			fmt.Printf("  Progress: %d/%d\n", i+1, cfg.Pregenerate)
		}
	}
	return batches, nil
}

func worker(id int, cfg *Config, url string, batches [][]byte, stats *Stats, client *http.Client) {
	batchIdx := id
	for stats.running.Load() {
		batch := batches[batchIdx%len(batches)]
		batchIdx++

		start := time.Now()
		req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(batch))
		if err != nil {
			stats.totalErrors.Add(1)
			continue
		}
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
		if cfg.Compress == "gzip" || cfg.Compress == "zstd" {
			req.Header.Set("Content-Encoding", cfg.Compress)
		}

		resp, err := client.Do(req)
		if err != nil {
			if stats.totalErrors.Add(1) <= 3 {
				fmt.Printf("Error: %v\n", err)
			}
			continue
		}

		if resp.StatusCode == http.StatusNoContent {
			stats.totalSent.Add(int64(cfg.BatchSize))
			stats.workerLatencies[id] = append(stats.workerLatencies[id], float64(time.Since(start).Microseconds())/1000.0)
		} else if stats.totalErrors.Add(1) <= 3 {
			body, _ := io.ReadAll(resp.Body)
			fmt.Printf("Error %d: %s\n", resp.StatusCode, string(body)[:min(100, len(body))])
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}
}

func main() {
	cfg := Config{}

	flag.IntVar(&cfg.Duration, "duration", 60, "Test duration in seconds")
	flag.IntVar(&cfg.Workers, "workers", 20, "Number of concurrent workers")
	flag.IntVar(&cfg.BatchSize, "batch-size", 1000, "Points per request")
	flag.IntVar(&cfg.Pregenerate, "pregenerate", 200, "Number of batches to pre-generate")
	flag.StringVar(&cfg.Compress, "compress", "none", "Compression: none, gzip, zstd")
	flag.StringVar(&cfg.DataType, "data-type", "iot", "Data type: iot, financial")
	flag.StringVar(&cfg.Endpoint, "endpoint", "v2", "Write endpoint: v1 (/write) or v2 (/api/v2/write)")
	flag.StringVar(&cfg.Host, "host", "localhost", "Server host")
	flag.IntVar(&cfg.Port, "port", 8086, "Server port")
	flag.Parse()

	url := fmt.Sprintf("http://%s:%d/api/v2/write?bucket=bench&precision=ns", cfg.Host, cfg.Port)
	if cfg.Endpoint == "v1" {
		url = fmt.Sprintf("http://%s:%d/write?db=bench&precision=n", cfg.Host, cfg.Port)
	}

	fmt.Println("================================================================================")
	fmt.Println("SUSTAINED LINE PROTOCOL WRITE LOAD")
	fmt.Println("================================================================================")
	fmt.Printf("Target:      %s\n", url)
	fmt.Printf("Data type:   %s\n", cfg.DataType)
	fmt.Printf("Compression: %s\n", cfg.Compress)
	fmt.Printf("Duration:    %ds\n", cfg.Duration)
	fmt.Printf("Batch size:  %d\n", cfg.BatchSize)
	fmt.Printf("Workers:     %d\n", cfg.Workers)
	fmt.Println("================================================================================")

	fmt.Printf("Pre-generating %d batches...\n", cfg.Pregenerate)
	startGen := time.Now()
	batches, err := generateBatches(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var totalSize int64
	for _, b := range batches {
		totalSize += int64(len(b))
	}
	fmt.Printf("Generated %d batches in %.1fs, avg %.1f KB\n\n",
		len(batches), time.Since(startGen).Seconds(), float64(totalSize)/float64(len(batches))/1024)

	client := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Workers + 10,
			MaxIdleConnsPerHost: cfg.Workers + 10,
			IdleConnTimeout:     30 * time.Second,
		},
		Timeout: 60 * time.Second,
	}

	stats := &Stats{}
	stats.initWorkers(cfg.Workers)
	stats.running.Store(true)

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			worker(id, &cfg, url, batches, stats, client)
		}(i)
	}

	startTime := time.Now()
	ticker := time.NewTicker(5 * time.Second)
	go func() {
		var lastSent int64
		for range ticker.C {
			if !stats.running.Load() {
				return
			}
			current := stats.totalSent.Load()
			fmt.Printf("[%6.1fs] points/s: %10.0f | Total: %12d | Errors: %6d\n",
				time.Since(startTime).Seconds(), float64(current-lastSent)/5.0, current, stats.totalErrors.Load())
			lastSent = current
		}
	}()

	time.Sleep(time.Duration(cfg.Duration) * time.Second)
	stats.running.Store(false)
	ticker.Stop()
	wg.Wait()

	elapsed := time.Since(startTime).Seconds()
	totalSent := stats.totalSent.Load()

	fmt.Println()
	fmt.Println("================================================================================")
	fmt.Println("RESULTS")
	fmt.Println("================================================================================")
	fmt.Printf("Duration:     %.1fs\n", elapsed)
	fmt.Printf("Total sent:   %d points\n", totalSent)
	fmt.Printf("Total errors: %d\n", stats.totalErrors.Load())
	fmt.Printf("Throughput:   %d points/sec\n", int64(float64(totalSent)/elapsed))
	fmt.Println("Latency percentiles:")
	fmt.Printf("  p50:  %.2f ms\n", stats.getPercentile(0.50))
	fmt.Printf("  p95:  %.2f ms\n", stats.getPercentile(0.95))
	fmt.Printf("  p99:  %.2f ms\n", stats.getPercentile(0.99))
	fmt.Println("================================================================================")
}
