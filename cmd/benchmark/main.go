package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Drives concurrent payments against a seeded instance (cmd/seeder users,
// all sharing the demo password) to measure throughput and how often the
// conditional debit fails closed under contention.
var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
)

// Metrics
var (
	totalRequests uint64
	successPaid   uint64
	insufficient  uint64
	failOther     uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
}

func main() {
	flag.Parse()
	log.Printf("Starting Benchmark: %s | Workers: %d | Duration: %s", workload, concurrency, duration)

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)

	for i := 0; i < concurrency; i++ {
		go worker(&wg, i, start)
	}

	wg.Wait()
	printResults(time.Since(start))
}

func userName(i int) string {
	return fmt.Sprintf("demo_user_%c%c", 'a'+i/26, 'a'+i%26)
}

func worker(wg *sync.WaitGroup, id int, start time.Time) {
	defer wg.Done()
	jar, _ := cookiejar.New(nil)
	client := &http.Client{Timeout: 5 * time.Second, Jar: jar}

	// Each worker authenticates as its own seeded sender; the auth cookies
	// land in the jar and back every payment request.
	sender := id % 100
	if !login(client, sender) {
		log.Printf("worker %d: login failed, exiting", id)
		return
	}

	for time.Since(start) < duration {
		receiver := pickReceiver(sender)

		payload := map[string]interface{}{
			"receiverUserName": userName(receiver),
			"amount":           "1.00",
		}
		body, _ := json.Marshal(payload)

		req, _ := http.NewRequest("POST", targetURL+"/api/v1/payments", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&failOther, 1)
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case 200:
			atomic.AddUint64(&successPaid, 1)
		case 400:
			atomic.AddUint64(&insufficient, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func login(client *http.Client, sender int) bool {
	payload := map[string]string{
		"email":    userName(sender) + "@example.com",
		"password": "password123",
	}
	body, _ := json.Marshal(payload)
	resp, err := client.Post(targetURL+"/api/v1/auth/login", "application/json", bytes.NewBuffer(body))
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == 200
}

func pickReceiver(sender int) int {
	totalUsers := 100

	if workload == "hotspot" {
		// Hotspot: 90% of payments flow into one receiver, hammering its
		// conditional credit.
		if rand.Float32() < 0.90 && sender != 0 {
			return 0
		}
	}

	r := rand.Intn(totalUsers)
	for r == sender {
		r = rand.Intn(totalUsers)
	}
	return r
}

func printResults(d time.Duration) {
	total := atomic.LoadUint64(&totalRequests)
	paid := atomic.LoadUint64(&successPaid)
	drained := atomic.LoadUint64(&insufficient)
	fErr := atomic.LoadUint64(&failOther)

	tps := float64(total) / d.Seconds()

	results := map[string]interface{}{
		"workload":       workload,
		"duration_sec":   d.Seconds(),
		"total_requests": total,
		"throughput_tps": tps,
		"payments_ok":    paid,
		"rejected_4xx":   drained,
		"errors":         fErr,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	// Also save to file
	filename := fmt.Sprintf("results_%s.json", workload)
	file, _ := os.Create(filename)
	defer file.Close()
	json.NewEncoder(file).Encode(results)
}
