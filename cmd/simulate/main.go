package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/logging"
	"github.com/hackgods/clinic-slot-booking/internal/slot"
)

type SimConfig struct {
	APIBaseURL   string
	ClinicID     uuid.UUID
	Date         appointment.Date
	Duration     time.Duration
	Workers      int
	RaceSize     int
	BookingRatio float64
	CancelRatio  float64
	ReadRatio    float64
	JWTSecret    string
	JWTIssuer    string
}

type booking struct {
	ID    uuid.UUID
	Owner int
}

// DataPool tracks bookings created during the run so workers can cancel their own.
type DataPool struct {
	mu       sync.Mutex
	bookings []booking
}

func (dp *DataPool) Add(b booking) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.bookings = append(dp.bookings, b)
}

// TakeOwned removes and returns one booking owned by worker.
func (dp *DataPool) TakeOwned(worker int) (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	for i, b := range dp.bookings {
		if b.Owner == worker {
			dp.bookings = append(dp.bookings[:i], dp.bookings[i+1:]...)
			return b.ID, true
		}
	}
	return uuid.Nil, false
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
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95 time.Duration) {
	om.mu.Lock()
	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	om.mu.Unlock()

	if len(latencies) == 0 {
		return 0, 0, 0, 0, 0
	}
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	percentile := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], percentile(50), percentile(95)
}

type Metrics struct {
	Race         OperationMetrics
	Booking      OperationMetrics
	Cancel       OperationMetrics
	Availability OperationMetrics
	ListOwn      OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    DataPool
	client  *http.Client
	metrics Metrics
	logger  zerolog.Logger
	signer  *auth.Verifier
}

type worker struct {
	id     int
	caller appointment.Caller
	token  string
}

func main() {
	var (
		cfg       SimConfig
		clinicRaw string
		dateRaw   string
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive concurrent booking traffic against a running api-server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg.ClinicID, err = uuid.Parse(clinicRaw); err != nil {
				return fmt.Errorf("--clinic must be a UUID: %w", err)
			}
			if dateRaw == "" {
				cfg.Date = appointment.DateOf(time.Now().AddDate(0, 0, 1))
			} else if cfg.Date, err = appointment.ParseDate(dateRaw); err != nil {
				return err
			}
			if err := validateConfig(&cfg); err != nil {
				return err
			}

			logger := logging.New("simulate", true, "info")
			sim := &Simulator{
				config: cfg,
				client: &http.Client{Timeout: 10 * time.Second},
				logger: logger,
			}
			if cfg.JWTSecret != "" {
				sim.signer = auth.NewVerifier(auth.JWTConfig{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer})
			}

			logger.Info().
				Str("clinic_id", cfg.ClinicID.String()).
				Str("date", cfg.Date.String()).
				Dur("duration", cfg.Duration).
				Int("workers", cfg.Workers).
				Int("race", cfg.RaceSize).
				Msg("simulator starting")

			if err := sim.RunRace(cmd.Context()); err != nil {
				return err
			}
			if err := sim.Run(cmd.Context()); err != nil {
				return err
			}
			sim.PrintReport()
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&cfg.APIBaseURL, "api", "http://localhost:8080", "api-server base URL")
	f.StringVar(&clinicRaw, "clinic", "", "approved clinic id to book against")
	f.StringVar(&dateRaw, "date", "", "booking date YYYY-MM-DD; defaults to tomorrow")
	f.DurationVar(&cfg.Duration, "duration", 30*time.Second, "length of the mixed workload")
	f.IntVar(&cfg.Workers, "workers", 10, "concurrent workers, each acting as its own user")
	f.IntVar(&cfg.RaceSize, "race", 50, "simultaneous bookings of one slot before the mixed workload; 0 skips")
	f.Float64Var(&cfg.BookingRatio, "booking-ratio", 0.4, "share of booking requests")
	f.Float64Var(&cfg.CancelRatio, "cancel-ratio", 0.2, "share of cancellations")
	f.Float64Var(&cfg.ReadRatio, "read-ratio", 0.4, "share of availability and listing reads")
	f.StringVar(&cfg.JWTSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "sign bearer tokens with this secret instead of sending identity headers")
	f.StringVar(&cfg.JWTIssuer, "jwt-issuer", os.Getenv("JWT_ISSUER"), "issuer claim for signed tokens")
	_ = cmd.MarkFlagRequired("clinic")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func validateConfig(cfg *SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("--workers must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("--duration must be > 0")
	}
	if cfg.RaceSize < 0 {
		return fmt.Errorf("--race must be >= 0")
	}

	total := cfg.BookingRatio + cfg.CancelRatio + cfg.ReadRatio
	if total <= 0 {
		return fmt.Errorf("at least one ratio must be > 0")
	}
	cfg.BookingRatio /= total
	cfg.CancelRatio /= total
	cfg.ReadRatio /= total
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return nil
}

func (s *Simulator) newWorker(id int) (*worker, error) {
	w := &worker{id: id, caller: appointment.Caller{UserID: uuid.New(), Role: appointment.RoleUser}}
	if s.signer != nil {
		token, err := s.signer.IssueToken(w.caller, time.Hour)
		if err != nil {
			return nil, fmt.Errorf("issue token: %w", err)
		}
		w.token = token
	}
	return w, nil
}

// RunRace fires RaceSize bookings for the same clinic, date and slot at once. Exactly
// one should be created and the rest rejected with 409.
func (s *Simulator) RunRace(ctx context.Context) error {
	if s.config.RaceSize == 0 {
		return nil
	}

	target := slot.All()[rand.Intn(slot.Len())]
	workers := make([]*worker, s.config.RaceSize)
	for i := range workers {
		w, err := s.newWorker(-1 - i)
		if err != nil {
			return err
		}
		workers[i] = w
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			<-start
			s.book(ctx, w, target, &s.metrics.Race)
		}(w)
	}
	close(start)
	wg.Wait()

	created := atomic.LoadInt64(&s.metrics.Race.Success)
	s.logger.Info().
		Str("slot", target.String()).
		Int64("created", created).
		Int64("conflicts", atomic.LoadInt64(&s.metrics.Race.Conflict)).
		Int64("errors", atomic.LoadInt64(&s.metrics.Race.Error)).
		Msg("race complete")
	if created > 1 {
		s.logger.Error().Int64("created", created).Msg("double booking detected")
	}
	return nil
}

func (s *Simulator) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.Duration)
	defer cancel()

	s.logger.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting mixed workload")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		w, err := s.newWorker(i)
		if err != nil {
			return err
		}
		wg.Add(1)
		go func(w *worker) {
			defer wg.Done()
			s.work(ctx, w)
		}(w)
	}

	wg.Wait()
	s.logger.Info().Msg("simulation complete")
	return nil
}

func (s *Simulator) work(ctx context.Context, w *worker) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w.id)))
	catalog := slot.All()

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.book(ctx, w, catalog[rng.Intn(len(catalog))], &s.metrics.Booking)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.cancel(ctx, w)
		case rng.Intn(2) == 0:
			s.availability(ctx, w)
		default:
			s.listOwn(ctx, w)
		}
	}
}

func (s *Simulator) book(ctx context.Context, w *worker, target slot.Slot, om *OperationMetrics) {
	body, _ := json.Marshal(map[string]string{
		"user_id":   w.caller.UserID.String(),
		"clinic_id": s.config.ClinicID.String(),
		"date":      s.config.Date.String(),
		"slot":      target.String(),
	})

	start := time.Now()
	resp, err := s.do(ctx, w, http.MethodPost, "/appointments", body)
	latency := time.Since(start)
	if err != nil {
		om.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil && created.ID != uuid.Nil {
			s.pool.Add(booking{ID: created.ID, Owner: w.id})
		}
		om.Record(latency, true, false)
	case http.StatusConflict:
		om.Record(latency, false, true)
	default:
		om.Record(latency, false, false)
	}
}

func (s *Simulator) cancel(ctx context.Context, w *worker) {
	id, ok := s.pool.TakeOwned(w.id)
	if !ok {
		return
	}

	body, _ := json.Marshal(map[string]string{"status": string(appointment.StatusCancelled)})

	start := time.Now()
	resp, err := s.do(ctx, w, http.MethodPut, "/appointments/"+id.String()+"/status", body)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Cancel.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	s.metrics.Cancel.Record(latency, resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusBadRequest)
}

func (s *Simulator) availability(ctx context.Context, w *worker) {
	path := fmt.Sprintf("/availability?clinic_id=%s&date=%s", s.config.ClinicID, s.config.Date)

	start := time.Now()
	resp, err := s.do(ctx, w, http.MethodGet, path, nil)
	latency := time.Since(start)
	if err != nil {
		s.metrics.Availability.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	s.metrics.Availability.Record(latency, resp.StatusCode == http.StatusOK, false)
}

func (s *Simulator) listOwn(ctx context.Context, w *worker) {
	start := time.Now()
	resp, err := s.do(ctx, w, http.MethodGet, "/appointments?user_id="+w.caller.UserID.String(), nil)
	latency := time.Since(start)
	if err != nil {
		s.metrics.ListOwn.Record(latency, false, false)
		return
	}
	defer resp.Body.Close()

	s.metrics.ListOwn.Record(latency, resp.StatusCode == http.StatusOK, false)
}

func (s *Simulator) do(ctx context.Context, w *worker, method, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	} else {
		req.Header.Set(auth.HeaderUserID, w.caller.UserID.String())
		req.Header.Set(auth.HeaderRole, string(w.caller.Role))
	}

	return s.client.Do(req)
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Clinic: %s  Date: %s\n", s.config.ClinicID, s.config.Date)
	fmt.Printf("Duration: %s  Workers: %d\n", s.config.Duration, s.config.Workers)
	fmt.Println()

	printOperationReport("Same-slot race", &s.metrics.Race)
	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Availability", &s.metrics.Availability)
	printOperationReport("List own", &s.metrics.ListOwn)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond))
	fmt.Println()
}
