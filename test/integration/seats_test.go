package integration_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-holds/internal/adapters/crdb"
	mongoadapter "github.com/robertarktes/seat-holds/internal/adapters/mongo"
	"github.com/robertarktes/seat-holds/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/seat-holds/internal/adapters/redis"
	"github.com/robertarktes/seat-holds/internal/domain"
	"github.com/robertarktes/seat-holds/internal/expiry"
	httphandler "github.com/robertarktes/seat-holds/internal/http"
	"github.com/robertarktes/seat-holds/internal/idempotency"
	"github.com/robertarktes/seat-holds/internal/notify"
	"github.com/robertarktes/seat-holds/internal/observability"
	"github.com/robertarktes/seat-holds/internal/rateLimit"
	"github.com/robertarktes/seat-holds/internal/reservation"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const holdTTL = 2 * time.Second

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	ctx := context.Background()
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Terminate(ctx) })
	host, err := c.Host(ctx)
	if err != nil {
		t.Fatal(err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port(port))
	if err != nil {
		t.Fatal(err)
	}
	return host + ":" + mapped.Port()
}

type stack struct {
	url   string
	audit *mongoadapter.AuditLogger
}

func startStack(t *testing.T) stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	crdbAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "cockroachdb/cockroach:v24.1.1",
		Cmd:          []string{"start-single-node", "--insecure"},
		ExposedPorts: []string{"26257/tcp", "8080/tcp"},
		WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
	}, "26257")
	redisAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}, "6379")
	rabbitAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "rabbitmq:3.13-management",
		ExposedPorts: []string{"5672/tcp"},
		WaitingFor:   wait.ForLog("Server startup complete").WithStartupTimeout(2 * time.Minute),
	}, "5672")
	mongoAddr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "mongo:7",
		ExposedPorts: []string{"27017/tcp"},
		WaitingFor:   wait.ForListeningPort("27017/tcp"),
	}, "27017")

	logger := observability.NopLogger()

	pool, err := pgxpool.New(ctx, "postgresql://root@"+crdbAddr+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pool.Close)
	ledger := crdb.NewRepository(pool)
	if err := ledger.EnsureSchema(ctx); err != nil {
		t.Fatal(err)
	}

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: redisAddr})
	t.Cleanup(func() { redisClient.Close() })
	registry := redisadapter.NewHoldRegistry(redisClient)
	subscription := redisadapter.NewExpirySubscription(redisClient)
	if err := subscription.EnableNotifications(ctx); err != nil {
		t.Fatal(err)
	}

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+mongoAddr))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mongoClient.Disconnect(context.Background()) })
	audit := mongoadapter.NewAuditLogger(mongoClient.Database("seats_it"), logger)

	rabbitURL := "amqp://guest:guest@" + rabbitAddr + "/"
	pub, err := rabbit.NewPublisher(rabbitURL)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { pub.Close() })
	consumer := rabbit.NewConsumer(rabbitURL, rabbit.ChangedKey)
	t.Cleanup(func() { consumer.Close() })

	// The API process feeds its hub directly; the watcher plays a separate
	// worker whose events arrive through the broker.
	hub := notify.NewHub()
	apiOrigin := "seats-api/" + uuid.NewString()
	apiNotifier := notify.Multi{hub, notify.NewBroker(pub, apiOrigin, logger)}
	workerNotifier := notify.NewBroker(pub, "expiry-worker/"+uuid.NewString(), logger)
	go notify.NewRelay(consumer, hub, apiOrigin, logger).Run(ctx)

	svc := reservation.NewCoordinator(registry, ledger, apiNotifier,
		reservation.WithHoldTTL(holdTTL),
		reservation.WithAuditor(audit),
		reservation.WithLogger(logger),
	)
	go expiry.NewWatcher(subscription, registry, ledger, workerNotifier, logger, holdTTL).Run(ctx)

	handlers := httphandler.NewHandlers(svc, hub,
		httphandler.ReadinessCheck{Name: "ledger", Ping: ledger.Ping},
		httphandler.ReadinessCheck{Name: "redis", Ping: registry.Ping},
	)
	r := httphandler.SetupRouter(handlers, logger, httphandler.RouterOptions{
		RateLimiter:        rateLimit.NewRateLimiter(redisClient),
		RateLimitPerMinute: 1000,
		Idempotency:        idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour),
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return stack{url: srv.URL, audit: audit}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(idempotency.Header, uuid.New().String())
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp
}

func seed(t *testing.T, base string) uuid.UUID {
	t.Helper()
	resp, err := http.Post(base+"/v1/shows", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("seed: status %d", resp.StatusCode)
	}
	var out struct {
		ShowID uuid.UUID `json:"show_id"`
	}
	json.NewDecoder(resp.Body).Decode(&out)
	return out.ShowID
}

func seatStatus(t *testing.T, base string, showID uuid.UUID, seatID string) domain.Seat {
	t.Helper()
	resp, err := http.Get(base + "/v1/shows/" + showID.String() + "/seats")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var seats []domain.Seat
	json.NewDecoder(resp.Body).Decode(&seats)
	if len(seats) != reservation.DefaultSeatsPerShow {
		t.Fatalf("expected %d seats, got %d", reservation.DefaultSeatsPerShow, len(seats))
	}
	for _, s := range seats {
		if s.SeatID == seatID {
			return s
		}
	}
	t.Fatalf("seat %s not listed", seatID)
	return domain.Seat{}
}

func TestIntegration_HoldConfirmExpire(t *testing.T) {
	st := startStack(t)
	showID := seed(t, st.url)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, st.url+"/v1/shows/"+showID.String()+"/events", nil)
	stream, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Body.Close()
	updates := make(chan string, 64)
	go func() {
		sc := bufio.NewScanner(stream.Body)
		for sc.Scan() {
			if strings.HasPrefix(sc.Text(), "event: ") {
				updates <- strings.TrimPrefix(sc.Text(), "event: ")
			}
		}
	}()

	hold := func(seat, user string) int {
		return postJSON(t, st.url+"/v1/holds", map[string]string{"show_id": showID.String(), "seat_id": seat, "user": user}).StatusCode
	}

	// Booking path.
	if code := hold("A1", "alice"); code != http.StatusCreated {
		t.Fatalf("alice hold: %d", code)
	}
	if code := hold("A1", "bob"); code != http.StatusConflict {
		t.Fatalf("bob hold: expected 409, got %d", code)
	}
	if s := seatStatus(t, st.url, showID, "A1"); !s.HeldBy("alice") {
		t.Fatalf("expected A1 HELD by alice, got %+v", s)
	}
	select {
	case ev := <-updates:
		if ev != "seat-update" {
			t.Fatalf("unexpected event %q", ev)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no seat-update after hold")
	}

	confirm := postJSON(t, st.url+"/v1/holds/confirm", map[string]string{"show_id": showID.String(), "seat_id": "A1", "user": "alice"})
	if confirm.StatusCode != http.StatusOK {
		t.Fatalf("confirm: %d", confirm.StatusCode)
	}
	if s := seatStatus(t, st.url, showID, "A1"); !s.BookedFor("alice") {
		t.Fatalf("expected A1 BOOKED for alice, got %+v", s)
	}
	if code := hold("A1", "bob"); code != http.StatusConflict {
		t.Fatalf("hold on booked seat: expected 409, got %d", code)
	}

	// Expiry path.
	if code := hold("A2", "carol"); code != http.StatusCreated {
		t.Fatalf("carol hold: %d", code)
	}
	deadline := time.Now().Add(holdTTL + 15*time.Second)
	for {
		s := seatStatus(t, st.url, showID, "A2")
		if s.Status == domain.SeatAvailable && s.BookedBy == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("A2 not released after expiry: %+v", s)
		}
		time.Sleep(200 * time.Millisecond)
	}
	late := postJSON(t, st.url+"/v1/holds/confirm", map[string]string{"show_id": showID.String(), "seat_id": "A2", "user": "carol"})
	if late.StatusCode != http.StatusConflict {
		t.Fatalf("confirm after expiry: expected 409, got %d", late.StatusCode)
	}
	if code := hold("A2", "bob"); code != http.StatusCreated {
		t.Fatalf("bob hold after expiry: %d", code)
	}

	logs, err := st.audit.ForSeat(context.Background(), domain.SeatRef{ShowID: showID, SeatID: "A1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected hold and confirm audited, got %+v", logs)
	}
}
