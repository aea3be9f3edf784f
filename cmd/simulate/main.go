package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
)

const wallClockLayout = "2006-01-02T15:04:05"

type SimConfig struct {
	APIBaseURL string
	Requests   int
	Workers    int
	Duration   time.Duration
	Start      time.Time
	Minutes    int
	Doctors    int
}

// Target is one tenant's doctor/patient pool loaded from Postgres.
type Target struct {
	TenantID uuid.UUID
	Doctors  []uuid.UUID
	Patients []uuid.UUID
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
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

func (om *OperationMetrics) Stats() (avg, p50, p95, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool {
		return latencies[i] < latencies[j]
	})

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	avg = sum / time.Duration(len(latencies))
	p50 = latencies[len(latencies)*50/100]
	p95 = latencies[min(len(latencies)*95/100, len(latencies)-1)]
	max = latencies[len(latencies)-1]
	return avg, p50, p95, max
}

type Simulator struct {
	config SimConfig
	target Target
	client *http.Client

	bookings    OperationMetrics
	transitions OperationMetrics
	booked      sync.Map // appointment id -> struct{}
}

func main() {
	logger := logging.New("simulate", os.Getenv("APP_ENV"), "info")

	root := &cobra.Command{
		Use:   "simulate",
		Short: "Drive booking traffic against a running api-server",
	}
	root.PersistentFlags().String("api", "http://localhost:8080", "api-server base URL")
	root.PersistentFlags().Int("doctors", 5, "doctors to load from Postgres")
	root.AddCommand(newRaceCmd(), newLoadCmd())

	if err := root.Execute(); err != nil {
		logger.Fatal().Err(err).Msg("simulation failed")
	}
}

// newRaceCmd fires identical bookings for one doctor and interval at once;
// exactly one of them must succeed.
func newRaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "race",
		Short: "Send N concurrent identical bookings and expect exactly one success",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sim, err := newSimulator(cmd)
			if err != nil {
				return err
			}

			ok := sim.Race(cmd.Context())
			sim.PrintReport()
			if !ok {
				return fmt.Errorf("expected exactly 1 successful booking, got %d", atomic.LoadInt64(&sim.bookings.Success))
			}
			return nil
		},
	}
	cmd.Flags().Int("requests", 50, "concurrent identical bookings")
	cmd.Flags().String("start", "", "start wall-clock time (default: tomorrow 10:00)")
	cmd.Flags().Int("minutes", 30, "appointment length in minutes")
	return cmd
}

// newLoadCmd books random doctor intervals and moves booked appointments
// through the lifecycle for a fixed duration.
func newLoadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load",
		Short: "Run mixed booking and lifecycle traffic for a fixed duration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sim, err := newSimulator(cmd)
			if err != nil {
				return err
			}

			sim.Load(cmd.Context())
			sim.PrintReport()
			return nil
		},
	}
	cmd.Flags().Int("workers", 10, "concurrent workers")
	cmd.Flags().Duration("duration", 30*time.Second, "how long to run")
	cmd.Flags().Int("minutes", 30, "appointment length in minutes")
	return cmd
}

func newSimulator(cmd *cobra.Command) (*Simulator, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	baseCfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if baseCfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required (set in .env or environment)")
	}

	flags := cmd.Flags()
	cfg := SimConfig{}
	cfg.APIBaseURL, _ = flags.GetString("api")
	cfg.Doctors, _ = flags.GetInt("doctors")
	cfg.Minutes, _ = flags.GetInt("minutes")
	cfg.Requests, _ = flags.GetInt("requests")
	cfg.Workers, _ = flags.GetInt("workers")
	cfg.Duration, _ = flags.GetDuration("duration")

	cfg.Start = tomorrowAt(10)
	if v, _ := flags.GetString("start"); v != "" {
		cfg.Start, err = time.Parse(wallClockLayout, v)
		if err != nil {
			return nil, fmt.Errorf("--start must look like %s: %w", wallClockLayout, err)
		}
	}

	loadCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(loadCtx, baseCfg.PostgresDSN, 2)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	target, err := loadTarget(loadCtx, pool, cfg.Doctors)
	if err != nil {
		return nil, err
	}

	return &Simulator{
		config: cfg,
		target: target,
		client: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// loadTarget picks the tenant with the most doctors and loads its pools.
func loadTarget(ctx context.Context, pool *pgxpool.Pool, doctorLimit int) (Target, error) {
	var t Target
	err := pool.QueryRow(ctx, `
		SELECT tenant_id FROM doctors
		GROUP BY tenant_id
		ORDER BY count(*) DESC
		LIMIT 1
	`).Scan(&t.TenantID)
	if err != nil {
		return t, fmt.Errorf("no tenant with doctors, run seed first: %w", err)
	}

	t.Doctors, err = loadIDs(ctx, pool, `SELECT id FROM doctors WHERE tenant_id = $1 LIMIT $2`, t.TenantID, doctorLimit)
	if err != nil {
		return t, fmt.Errorf("load doctors: %w", err)
	}
	t.Patients, err = loadIDs(ctx, pool, `SELECT id FROM patients WHERE tenant_id = $1 LIMIT $2`, t.TenantID, 1000)
	if err != nil {
		return t, fmt.Errorf("load patients: %w", err)
	}
	if len(t.Doctors) == 0 || len(t.Patients) == 0 {
		return t, fmt.Errorf("tenant %s has no doctors or patients", t.TenantID)
	}
	return t, nil
}

func loadIDs(ctx context.Context, pool *pgxpool.Pool, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Race reports whether exactly one booking succeeded.
func (s *Simulator) Race(ctx context.Context) bool {
	doctorID := s.target.Doctors[0]
	start := s.config.Start
	end := start.Add(time.Duration(s.config.Minutes) * time.Minute)

	fmt.Printf("racing %d bookings for doctor %s at %s\n", s.config.Requests, doctorID, start.Format(wallClockLayout))

	gate := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < s.config.Requests; i++ {
		patientID := s.target.Patients[i%len(s.target.Patients)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-gate
			s.book(ctx, patientID, doctorID, start, end)
		}()
	}
	close(gate)
	wg.Wait()

	return atomic.LoadInt64(&s.bookings.Success) == 1
}

func (s *Simulator) Load(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	fmt.Printf("running load for %s with %d workers\n", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for ctx.Err() == nil {
				if rng.Float64() < 0.7 {
					s.randomBooking(ctx, rng)
				} else {
					s.randomTransition(ctx, rng)
				}
			}
		}(i)
	}
	wg.Wait()
}

func (s *Simulator) randomBooking(ctx context.Context, rng *rand.Rand) {
	doctorID := s.target.Doctors[rng.Intn(len(s.target.Doctors))]
	patientID := s.target.Patients[rng.Intn(len(s.target.Patients))]

	// Quarter-hour starts inside the next five working days.
	day := tomorrowAt(8).AddDate(0, 0, rng.Intn(5))
	start := day.Add(time.Duration(rng.Intn(36)) * 15 * time.Minute)
	end := start.Add(time.Duration(s.config.Minutes) * time.Minute)

	s.book(ctx, patientID, doctorID, start, end)
}

func (s *Simulator) randomTransition(ctx context.Context, rng *rand.Rand) {
	var ids []string
	s.booked.Range(func(k, _ any) bool {
		ids = append(ids, k.(string))
		return len(ids) < 200
	})
	if len(ids) == 0 {
		return
	}

	actions := []string{"confirm", "start", "complete", "cancel"}
	path := fmt.Sprintf("/appointments/%s/%s", ids[rng.Intn(len(ids))], actions[rng.Intn(len(actions))])

	begin := time.Now()
	status, _, err := s.do(ctx, http.MethodPost, path, nil)
	if ctx.Err() != nil {
		return
	}
	s.transitions.Record(time.Since(begin), err == nil && status == http.StatusOK, status == http.StatusConflict)
}

func (s *Simulator) book(ctx context.Context, patientID, doctorID uuid.UUID, start, end time.Time) {
	doctor := doctorID.String()
	endAt := end.Format(wallClockLayout)
	body := map[string]any{
		"patient_id": patientID.String(),
		"doctor_id":  doctor,
		"start_at":   start.Format(wallClockLayout),
		"end_at":     endAt,
		"type":       "consultation",
		"channel":    "in_person",
	}

	begin := time.Now()
	status, resp, err := s.do(ctx, http.MethodPost, "/appointments", body)
	if ctx.Err() != nil {
		return
	}
	latency := time.Since(begin)

	if err == nil && status == http.StatusCreated {
		var created struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(resp, &created) == nil && created.ID != "" {
			s.booked.Store(created.ID, struct{}{})
		}
	}
	s.bookings.Record(latency, err == nil && status == http.StatusCreated, status == http.StatusConflict)
}

func (s *Simulator) do(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(s.config.APIBaseURL, "/")+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", s.target.TenantID.String())

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Tenant: %s\n", s.target.TenantID)
	fmt.Println()

	printOperationReport("Booking", &s.bookings)
	printOperationReport("Transition", &s.transitions)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func tomorrowAt(hour int) time.Time {
	now := time.Now()
	return time.Date(now.Year(), now.Month(), now.Day()+1, hour, 0, 0, 0, time.UTC)
}
