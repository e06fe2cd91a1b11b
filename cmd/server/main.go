/*
main.go - Application entry point

PURPOSE:

	Initializes and starts the booking engine server. Handles
	configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
 1. Load .env (optional), parse command-line flags
 2. Initialize SQLite store
 3. Wire availability engine, lifecycle, reconciler, mailer
 4. Configure HTTP router
 5. Start server with graceful shutdown

COMMAND-LINE FLAGS:

	-port           HTTP server port (default: 8080)
	-db             SQLite database path (default: booking.db)
	                Use ":memory:" for in-memory database
	-gateway-url    Payment gateway base URL
	-timezone       IANA timezone for date+time calculations

ENVIRONMENT (flags win over env; .env is read when present):

	WEBHOOK_SECRET  Shared secret for webhook signatures
	OWNER_API_KEY   API key for management endpoints
	SMTP_HOST, SMTP_PORT, SMTP_USERNAME, SMTP_PASSWORD, SMTP_FROM

GRACEFUL SHUTDOWN:

	On SIGINT/SIGTERM:
	1. Stop accepting new connections
	2. Wait for active requests to complete (30s timeout)
	3. Close database connection
	4. Exit

EXAMPLES:

	# Run with file database
	./server -db="./data/booking.db"

	# Run with in-memory database
	./server -db=":memory:"

	# Point at a sandbox gateway
	./server -gateway-url="https://api.sandbox.gateway.test"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/booking-engine/api"
	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/commission"
	"github.com/warp/booking-engine/notify"
	"github.com/warp/booking-engine/payments"
	"github.com/warp/booking-engine/schedule"
	"github.com/warp/booking-engine/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "booking.db", "SQLite database path")
	gatewayURL := flag.String("gateway-url", envOr("GATEWAY_URL", "https://api.mercadopago.com"), "payment gateway base URL")
	timezone := flag.String("timezone", envOr("TIMEZONE", "Local"), "IANA timezone for appointments")
	flag.Parse()

	loc, err := time.LoadLocation(*timezone)
	if err != nil {
		log.Fatalf("Invalid timezone %q: %v", *timezone, err)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the engines. The store serves as the availability directory,
	// the lifecycle's persistence, and the commission ledger.
	availability := schedule.NewEngine(store)

	lifecycle := booking.NewLifecycle(store, availability)
	lifecycle.Location = loc
	lifecycle.Commissions = commission.NewAccrual(store)
	lifecycle.Mail = mailerFromEnv()

	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		log.Println("Warning: WEBHOOK_SECRET not set; webhook signatures will not verify")
	}
	reconciler := payments.NewReconciler(store, payments.NewHTTPGateway(*gatewayURL), []byte(secret))

	handler := api.NewHandler(store, availability, lifecycle, reconciler)
	handler.OwnerKey = os.Getenv("OWNER_API_KEY")
	if handler.OwnerKey == "" {
		log.Println("Warning: OWNER_API_KEY not set; management endpoints are open")
	}

	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://localhost:%d", *port)
		log.Printf("API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// mailerFromEnv builds the SMTP sender, or a no-op when SMTP_HOST is
// unset so local runs do not need a mail server.
func mailerFromEnv() notify.Sender {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return notify.Noop{}
	}
	port, _ := strconv.Atoi(os.Getenv("SMTP_PORT"))
	return notify.NewMail(host, port, os.Getenv("SMTP_USERNAME"), os.Getenv("SMTP_PASSWORD"), os.Getenv("SMTP_FROM"))
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
