// Package main implements a standalone mock Cloudflare server for manual
// testing of the rotation engine.
package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotodns/rotodns/internal/testutil/mockcf"
)

// getPort returns the port from the PORT environment variable or the default.
func getPort() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8380"
	}
	return port
}

func main() {
	port := getPort()

	server := mockcf.NewDetached()

	// Seed one zone so clients have something to list against.
	zoneID := server.AddZone("example.com")
	server.AddRecord(zoneID, "edge.example.com", "A", "203.0.113.1")
	log.Printf("seeded zone example.com (%s)", zoneID)

	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: server.Router(),
	}

	done := make(chan bool)
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down mockcloudflare server...")
		//nolint:errcheck
		httpServer.Close()
		close(done)
	}()

	log.Printf("mockcloudflare listening on :%s", port)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("HTTP server error: %v", err)
	}

	<-done
	log.Println("mockcloudflare stopped")
}
