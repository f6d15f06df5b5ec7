package main

import (
	"bytes"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	replayPool  int
)

var (
	totalRequests uint64
	success201    uint64 // created
	success200    uint64 // replayed quote
	dup409        uint64 // duplicate transfer
	upstream502   uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "quote", "Workload: quote | replay | transfer | duplicate")
	flag.IntVar(&replayPool, "pool", 50, "Distinct references/people reused by replay and duplicate workloads")
}

func main() {
	flag.Parse()
	log.Printf("Starting benchmark: %s | workers: %d | duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, i, start)
	}
	wg.Wait()
	printResults(time.Since(start))
}

func worker(wg *sync.WaitGroup, id int, start time.Time) {
	defer wg.Done()
	// Upstream calls may take up to 30s.
	client := &http.Client{Timeout: 35 * time.Second}

	for seq := 0; time.Since(start) < duration; seq++ {
		path, payload := nextRequest(id, seq)
		body, _ := sonic.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+path, bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}
		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&success201, 1)
		case http.StatusOK:
			atomic.AddUint64(&success200, 1)
		case http.StatusConflict:
			atomic.AddUint64(&dup409, 1)
		case http.StatusBadGateway:
			atomic.AddUint64(&upstream502, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func nextRequest(worker, seq int) (string, map[string]any) {
	switch workload {
	case "replay":
		return "/api/v1/quote", quotePayload(fmt.Sprintf("bench-ref-%d", rand.Intn(replayPool)))
	case "transfer":
		return "/api/v1/transfer", transferPayload(fmt.Sprintf("%d%06d%06d", 9, worker, seq))
	case "duplicate":
		return "/api/v1/transfer", transferPayload(fmt.Sprintf("8%012d", rand.Intn(replayPool)))
	default:
		return "/api/v1/quote", quotePayload(fmt.Sprintf("bench-%d-%d-%d", worker, seq, time.Now().UnixNano()))
	}
}

func quotePayload(ref string) map[string]any {
	return map[string]any{
		"source":              "benchmark",
		"externalReferenceId": ref,
		"vehicles": []map[string]any{{
			"year":  2019,
			"make":  "Toyota",
			"model": "Corolla",
			"address": map[string]any{
				"addressLine": "1 Bench St",
				"postalCode":  8001,
				"suburb":      "Gardens",
			},
			"regularDriver": map[string]any{
				"maritalStatus":          "Single",
				"relationToPolicyHolder": "Self",
				"yearsWithoutClaims":     2,
			},
		}},
	}
}

func transferPayload(idNumber string) map[string]any {
	return map[string]any{
		"customer_info": map[string]any{
			"first_name":     "Bench",
			"last_name":      "Mark",
			"contact_number": "07" + idNumber[len(idNumber)-8:],
			"id_number":      idNumber,
		},
		"agent_info": map[string]any{
			"agent_name":  "bench",
			"branch_name": "Load Test",
		},
	}
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	s201 := atomic.LoadUint64(&success201)
	s200 := atomic.LoadUint64(&success200)
	d409 := atomic.LoadUint64(&dup409)
	u502 := atomic.LoadUint64(&upstream502)
	fErr := atomic.LoadUint64(&failOther)

	var dupRate float64
	if total > 0 {
		dupRate = float64(d409) / float64(total) * 100
	}

	results := map[string]any{
		"workload":         workload,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_rps":   float64(total) / d.Seconds(),
		"created":          s201,
		"replayed":         s200,
		"duplicates":       d409,
		"duplicate_pct":    dupRate,
		"upstream_failure": u502,
		"errors":           fErr,
	}

	out, _ := sonic.ConfigStd.MarshalIndent(results, "", "  ")
	fmt.Println(string(out))

	filename := fmt.Sprintf("results_%s.json", workload)
	if err := os.WriteFile(filename, out, 0o644); err != nil {
		log.Printf("write %s: %v", filename, err)
	}
}
