package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Config holds the load generator settings
var (
	targetURL   string
	token       string
	tunnelsFile string
	concurrency int
	duration    time.Duration
	workload    string
	price       uint64
)

// Metrics
var (
	totalRequests uint64
	charged       uint64 // 200 authorized
	broke         uint64 // 402 insufficient balance
	conflicts     uint64 // 409 inactive tunnel
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.StringVar(&token, "token", "", "Bearer token for the tunnel owner")
	flag.StringVar(&tunnelsFile, "tunnels", "tunnels.json", "JSON array of tunnel ids to charge")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.Uint64Var(&price, "price", 100, "Price per charge")
}

func main() {
	flag.Parse()

	tunnels, err := loadTunnels(tunnelsFile)
	if err != nil {
		log.Fatalf("Unable to load tunnel list: %v", err)
	}
	log.Printf("Starting load: %s | Workers: %d | Tunnels: %d | Duration: %s", workload, concurrency, len(tunnels), duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, start, tunnels)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func loadTunnels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tunnels []string
	if err := json.Unmarshal(data, &tunnels); err != nil {
		return nil, err
	}
	if len(tunnels) == 0 {
		return nil, fmt.Errorf("tunnel list is empty")
	}
	return tunnels, nil
}

func worker(wg *sync.WaitGroup, start time.Time, tunnels []string) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}

	for time.Since(start) < duration {
		id := pickTunnel(tunnels)

		payload := map[string]interface{}{"price": price}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/tunnels/"+id+"/charge", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&charged, 1)
		case 402:
			atomic.AddUint64(&broke, 1)
		case 409:
			atomic.AddUint64(&conflicts, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickTunnel(tunnels []string) string {
	if workload == "hotspot" {
		// Hotspot: 90% of traffic hammers the first tunnel to measure
		// per-tunnel serialization under contention.
		if rand.Float32() < 0.90 {
			return tunnels[0]
		}
	}
	return tunnels[rand.Intn(len(tunnels))]
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	ok := atomic.LoadUint64(&charged)
	b := atomic.LoadUint64(&broke)
	c := atomic.LoadUint64(&conflicts)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":             workload,
		"duration_sec":         d.Seconds(),
		"total_requests":       total,
		"throughput_tps":       tps,
		"charges_authorized":   ok,
		"insufficient_balance": b,
		"tunnel_not_active":    c,
		"errors":               fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
