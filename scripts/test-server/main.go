// Command test-server is a local target for trying plans without touching a
// real service.
package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/logging"
)

type serverOptions struct {
	addr        string
	latency     time.Duration
	jitter      time.Duration
	failureRate float64
}

func main() {
	opts := &serverOptions{}

	cmd := &cobra.Command{
		Use:   "test-server",
		Short: "Serve a pizza-themed target for load test plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":8080", "Listen address")
	cmd.Flags().DurationVar(&opts.latency, "latency", 50*time.Millisecond, "Base response latency")
	cmd.Flags().DurationVar(&opts.jitter, "jitter", 20*time.Millisecond, "Random latency added on top of the base")
	cmd.Flags().Float64Var(&opts.failureRate, "failure-rate", 0, "Fraction of requests to / answered with 500")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(opts *serverOptions) error {
	logger, err := logging.NewLogger(&logging.Config{Level: "info", Format: "text", Output: "stderr", ServiceName: "test-server"})
	if err != nil {
		return err
	}
	log := logger.Entry()

	delay := func() {
		d := opts.latency
		if opts.jitter > 0 {
			d += time.Duration(rand.Int63n(int64(opts.jitter)))
		}
		time.Sleep(d)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		delay()
		if opts.failureRate > 0 && rand.Float64() < opts.failureRate {
			http.Error(w, "oven on fire", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><h1>QuickPizza</h1><p>Looking to break out of your pizza routine?</p></body></html>")
	})

	mux.HandleFunc("/api/pizza", func(w http.ResponseWriter, r *http.Request) {
		delay()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"pizza": map[string]interface{}{
				"id":          rand.Intn(1000),
				"name":        "Margherita",
				"ingredients": []string{"tomato", "mozzarella", "basil"},
			},
		})
	})

	mux.HandleFunc("/status/", func(w http.ResponseWriter, r *http.Request) {
		code, err := strconv.Atoi(r.URL.Path[len("/status/"):])
		if err != nil || code < 100 || code > 599 {
			http.Error(w, "bad status", http.StatusBadRequest)
			return
		}
		w.WriteHeader(code)
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "healthy")
	})

	server := &http.Server{
		Addr:              opts.addr,
		Handler:           mux,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      5 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ReadHeaderTimeout: 2 * time.Second,
	}

	log.WithFields(map[string]interface{}{
		"addr":         opts.addr,
		"latency":      opts.latency,
		"failure_rate": opts.failureRate,
	}).Info("test server listening")

	return server.ListenAndServe()
}
