package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ramppool/ramp-api/internal/orders"
	"github.com/ramppool/ramp-api/internal/types"
)

const (
	minOrders     = 10
	maxOrders     = 80
	numWorkers    = 5
	serverAddress = "http://localhost:8080"
)

var currencies = []string{"GHS", "NGN", "KES"}

var simTokens = []types.TokenInfo{
	{ChainID: 8453, Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Symbol: "USDC", Decimals: 6},
	{ChainID: 137, Address: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Symbol: "USDC", Decimals: 6},
	{ChainID: 137, Address: "0x8f3Cf7ad23Cd3CaDbD9735AFf958023239c6A063", Symbol: "DAI", Decimals: 18},
}

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// routeStats tracks performance statistics for an API endpoint
type routeStats struct {
	name       string
	durations  []time.Duration
	totalCalls int
	failures   int
}

// addDuration records a new duration measurement for the route
func (rs *routeStats) addDuration(d time.Duration) {
	rs.durations = append(rs.durations, d)
	rs.totalCalls++
}

// calculate computes performance statistics from recorded durations
func (rs *routeStats) calculate() (min, max, mean, median, p95 time.Duration) {
	if len(rs.durations) == 0 {
		return 0, 0, 0, 0, 0
	}

	sort.Slice(rs.durations, func(i, j int) bool {
		return rs.durations[i] < rs.durations[j]
	})

	min = rs.durations[0]
	max = rs.durations[len(rs.durations)-1]

	var sum time.Duration
	for _, d := range rs.durations {
		sum += d
	}
	mean = sum / time.Duration(len(rs.durations))
	median = rs.durations[len(rs.durations)/2]

	p95idx := int(math.Ceil(float64(len(rs.durations))*0.95)) - 1
	p95 = rs.durations[p95idx]

	return
}

// simulationClient handles HTTP communication with the ramp API
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
	mu        sync.Mutex
	stats     map[string]*routeStats
}

// newSimulationClient creates and initializes a new simulation client.
// It authenticates with the API and prepares performance tracking.
func newSimulationClient() (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
		stats: map[string]*routeStats{
			"auth":     {name: "Authentication"},
			"create":   {name: "Create Order"},
			"confirm":  {name: "Confirm Payment"},
			"get":      {name: "Get Order"},
			"balances": {name: "Get Balances"},
		},
	}

	token, err := sc.authenticate()
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

func (sc *simulationClient) record(route string, start time.Time, failed bool) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.stats[route].addDuration(time.Since(start))
	if failed {
		sc.stats[route].failures++
	}
}

// doJSON sends an authenticated JSON request and decodes the standard
// response envelope into out.
func (sc *simulationClient) doJSON(method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(encoded)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+sc.authToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}

	envelope := struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate() (string, error) {
	start := time.Now()

	credentials := map[string]string{
		"api_key":    getEnv("OPERATOR_API_KEY", "operator-api-key"),
		"api_secret": getEnv("OPERATOR_API_SECRET", "operator-api-secret"),
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		sc.record("auth", start, true)
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		sc.record("auth", start, true)
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Data struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		sc.record("auth", start, true)
		return "", err
	}

	sc.record("auth", start, false)
	return result.Data.Token, nil
}

// createOrder submits a new buy order and returns its ID and payment
// reference
func (sc *simulationClient) createOrder() (orderID, reference string, err error) {
	start := time.Now()

	token := simTokens[rand.Intn(len(simTokens))]
	amount := fmt.Sprintf("%d", rand.Intn(490)+10)
	reference = "PAY_" + uuid.New().String()

	params := orders.CreateOrderParams{
		OrderType:         orders.TypeBuy,
		UserWalletAddress: fmt.Sprintf("0x%040x", rand.Int63()),
		Token:             token,
		RequestedAmount:   amount,
		FiatAmount:        fmt.Sprintf("%d", (rand.Intn(490)+10)*16),
		FiatCurrency:      currencies[rand.Intn(len(currencies))],
		UserEmail:         fmt.Sprintf("user%d@example.com", rand.Intn(10000)),
		ExternalReference: reference,
	}

	var order orders.Order
	if err = sc.doJSON("POST", "/api/v1/orders", params, &order); err != nil {
		sc.record("create", start, true)
		return "", "", err
	}

	sc.record("create", start, false)
	return order.OrderID, reference, nil
}

// confirmPayment simulates the payment provider webhook for a reference
func (sc *simulationClient) confirmPayment(reference string) (*orders.Order, error) {
	start := time.Now()

	payload := map[string]string{
		"reference": reference,
		"status":    "success",
	}

	var order orders.Order
	if err := sc.doJSON("POST", "/api/v1/internal/payments/confirm", payload, &order); err != nil {
		sc.record("confirm", start, true)
		return nil, err
	}

	sc.record("confirm", start, false)
	return &order, nil
}

// getOrder retrieves the current status of an order
func (sc *simulationClient) getOrder(orderID string) (*orders.Order, error) {
	start := time.Now()

	var order orders.Order
	if err := sc.doJSON("GET", "/api/v1/orders/"+orderID, nil, &order); err != nil {
		sc.record("get", start, true)
		return nil, err
	}

	sc.record("get", start, false)
	return &order, nil
}

// getBalances fetches the pool inventory snapshot
func (sc *simulationClient) getBalances() error {
	start := time.Now()

	var balances []map[string]interface{}
	if err := sc.doJSON("GET", "/api/v1/balances", nil, &balances); err != nil {
		sc.record("balances", start, true)
		return err
	}

	log.Info().Int("tracked_keys", len(balances)).Msg("pool inventory snapshot")
	sc.record("balances", start, false)
	return nil
}

// runOrderFlow drives one order through its lifecycle: create, confirm
// the fiat payment, then poll until the order reaches a terminal state.
func runOrderFlow(sc *simulationClient, workerID int) {
	logger := log.With().Int("worker", workerID).Logger()

	orderID, reference, err := sc.createOrder()
	if err != nil {
		logger.Error().Err(err).Msg("failed to create order")
		return
	}
	logger.Info().Str("order_id", orderID).Msg("order created")

	if _, err := sc.confirmPayment(reference); err != nil {
		logger.Warn().Err(err).Str("order_id", orderID).Msg("payment confirmation failed")
	}

	for attempt := 0; attempt < 5; attempt++ {
		order, err := sc.getOrder(orderID)
		if err != nil {
			logger.Error().Err(err).Str("order_id", orderID).Msg("failed to fetch order")
			return
		}
		if order.IsTerminal() {
			logger.Info().
				Str("order_id", orderID).
				Str("status", order.Status).
				Str("tx_hash", order.ResultTxHash).
				Str("error", order.ErrorMessage).
				Msg("order reached terminal state")
			return
		}
		time.Sleep(time.Second)
	}

	logger.Warn().Str("order_id", orderID).Msg("order still in flight after polling window")
}

func main() {
	sc, err := newSimulationClient()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize simulation client")
	}

	totalOrders := rand.Intn(maxOrders-minOrders+1) + minOrders
	log.Info().Int("orders", totalOrders).Int("workers", numWorkers).Msg("starting ramp simulation")

	jobs := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for range jobs {
				runOrderFlow(sc, workerID)
			}
		}(w)
	}

	for i := 0; i < totalOrders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	if err := sc.getBalances(); err != nil {
		log.Error().Err(err).Msg("failed to fetch pool balances")
	}

	printStats(sc)
}

// printStats reports per-route latency statistics for the run
func printStats(sc *simulationClient) {
	for _, rs := range sc.stats {
		if rs.totalCalls == 0 {
			continue
		}
		min, max, mean, median, p95 := rs.calculate()
		log.Info().
			Str("route", rs.name).
			Int("calls", rs.totalCalls).
			Int("failures", rs.failures).
			Dur("min", min).
			Dur("max", max).
			Dur("mean", mean).
			Dur("median", median).
			Dur("p95", p95).
			Msg("route statistics")
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
