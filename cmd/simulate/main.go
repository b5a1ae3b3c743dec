package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinic-scheduling/internal/config"
	"github.com/clinicdesk/clinic-scheduling/internal/db"
)

// The probe hammers a small fixed set of slots from many workers at once.
// A correct deployment yields exactly one created booking per slot; every
// other attempt must come back as a conflict, never as a second success.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	SlotCount   int
	PostgresDSN string
}

type slot struct {
	TherapistID uuid.UUID
	Date        string
	Time        string
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []slot

	mu      sync.Mutex
	winners map[int][]uuid.UUID // slot index -> appointment IDs that got a 201
}

func (dp *DataPool) RecordWin(slotIdx int, apptID uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.winners[slotIdx] = append(dp.winners[slotIdx], apptID)
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	if success {
		atomic.AddInt64(&om.Success, 1)
	} else if conflict {
		atomic.AddInt64(&om.Conflict, 1)
	} else {
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p95 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	min = latencies[0]
	max = latencies[len(latencies)-1]

	p95Idx := len(latencies) * 95 / 100
	if p95Idx >= len(latencies) {
		p95Idx = len(latencies) - 1
	}
	p95 = latencies[p95Idx]

	return avg, min, max, p95
}

type Simulator struct {
	config   SimConfig
	pool     *DataPool
	client   *http.Client
	booking  OperationMetrics
	readback OperationMetrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d slots=%d",
		cfg.Duration, cfg.Workers, cfg.SlotCount)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}

	log.Printf("loaded: %d patients, contending over %d slots",
		len(dataPool.Patients), len(dataPool.Slots))

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
	}

	sim.Run()
	sim.PrintReport()
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 10),
		SlotCount:   getInt("SIM_SLOT_COUNT", 8),
		PostgresDSN: baseCfg.PostgresDSN,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.SlotCount <= 0 {
		return fmt.Errorf("SIM_SLOT_COUNT must be > 0")
	}
	return nil
}

func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig) (*DataPool, error) {
	dataPool := &DataPool{winners: make(map[int][]uuid.UUID)}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT 500`)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}

	rows, err = pool.Query(ctx, `SELECT id FROM therapists LIMIT $1`, cfg.SlotCount)
	if err != nil {
		return nil, fmt.Errorf("load therapists: %w", err)
	}
	defer rows.Close()

	var therapists []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		therapists = append(therapists, id)
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded, run the seed tool first")
	}
	if len(therapists) == 0 {
		return nil, fmt.Errorf("no therapists loaded, run the seed tool first")
	}

	// Contended slots spread over the next fortnight so reruns do not
	// collide with a previous probe's bookings.
	times := []string{"09:00", "10:00", "11:00", "14:00", "15:00", "16:00"}
	base := time.Now().AddDate(0, 0, 1+rand.Intn(14))
	for i := 0; i < cfg.SlotCount; i++ {
		dataPool.Slots = append(dataPool.Slots, slot{
			TherapistID: therapists[i%len(therapists)],
			Date:        base.AddDate(0, 0, i/len(times)).Format("2006-01-02"),
			Time:        times[i%len(times)],
		})
	}

	return dataPool, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting probe for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("probe complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if rng.Float64() < 0.8 {
				s.doBooking(ctx, rng)
			} else {
				s.doAvailability(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	slotIdx := rng.Intn(len(s.pool.Slots))
	sl := s.pool.Slots[slotIdx]
	patientID := s.pool.Patients[rng.Intn(len(s.pool.Patients))]

	start := time.Now()

	reqBody := map[string]any{
		"patient_id":   patientID.String(),
		"therapist_id": sl.TherapistID.String(),
		"date":         sl.Date,
		"time":         sl.Time,
		"status":       "confirmed",
	}
	body, _ := json.Marshal(reqBody)

	req, _ := http.NewRequestWithContext(ctx, "POST", s.config.APIBaseURL+"/appointments", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	conflict := false

	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var apptResp struct {
				ID uuid.UUID `json:"id"`
			}
			if json.NewDecoder(resp.Body).Decode(&apptResp) == nil && apptResp.ID != uuid.Nil {
				s.pool.RecordWin(slotIdx, apptResp.ID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.booking.Record(latency, success, conflict)
}

func (s *Simulator) doAvailability(ctx context.Context, rng *rand.Rand) {
	sl := s.pool.Slots[rng.Intn(len(s.pool.Slots))]

	start := time.Now()

	req, _ := http.NewRequestWithContext(ctx, "GET",
		fmt.Sprintf("%s/availability?therapist_id=%s&date=%s&time=%s",
			s.config.APIBaseURL, sl.TherapistID.String(), sl.Date, sl.Time), nil)

	resp, err := s.client.Do(req)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.readback.Record(latency, success, false)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n================================================================")
	fmt.Println("DOUBLE-BOOKING PROBE REPORT")
	fmt.Println("================================================================")
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.booking)
	printOperationReport("Availability", &s.readback)

	s.pool.mu.Lock()
	defer s.pool.mu.Unlock()

	violations := 0
	for idx, winners := range s.pool.winners {
		if len(winners) > 1 {
			violations++
			sl := s.pool.Slots[idx]
			fmt.Printf("VIOLATION: slot therapist=%s %s %s booked %d times\n",
				sl.TherapistID, sl.Date, sl.Time, len(winners))
		}
	}

	fmt.Printf("Slots won: %d/%d\n", len(s.pool.winners), len(s.pool.Slots))
	if violations == 0 {
		fmt.Println("Double-booking violations: none")
	} else {
		fmt.Printf("Double-booking violations: %d\n", violations)
		os.Exit(1)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	errCount := atomic.LoadInt64(&om.Error)

	avg, min, max, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if errCount > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", errCount, float64(errCount)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond),
		max.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
