// Package main generates sample triggerd metrics for dashboard development
// without pointing Grafana at real production traffic. It drives a real
// engine with synthetic conversation turns and serves the resulting metrics
// on :9121.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fyrsmithlabs/triggerd/internal/trigger"
)

var sampleMessages = []string{
	"remember that the staging DB is on port 5433",
	"save this for later: rotate the API keys monthly",
	"what did we decide about retries?",
	"do you remember the nginx config path?",
	"search my notes for the deploy checklist",
	"my name is Dana and I work on the platform team",
	"the fix was increasing ulimit to 65536",
	"ok sounds good",
	"ship it",
	"looks like the tests pass now",
}

var sampleUsers = []string{"alice", "bob", "carol", "dave", "erin"}

func main() {
	registry := prometheus.NewRegistry()
	metrics := trigger.NewMetrics(registry)

	cfg := trigger.DefaultEngineConfig()
	cfg.Fusion.Mode = trigger.ModeLearning
	cfg.Learner.BatchSize = 20
	cfg.Learner.Interval = 30 * time.Second

	engine, err := trigger.NewEngine(cfg, metrics, nil)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	engine.Start(ctx)
	defer engine.Close()

	go driveTraffic(ctx, engine)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: ":9121", Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Println("Generating sample triggerd metrics on http://localhost:9121/metrics")
	fmt.Println("Press Ctrl+C to stop")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

// driveTraffic evaluates a random message every few hundred milliseconds
// and occasionally sends feedback, so every decision and learning metric
// moves.
func driveTraffic(ctx context.Context, engine *trigger.Engine) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msg := trigger.Message{
			Text:     sampleMessages[rng.Intn(len(sampleMessages))],
			Platform: "cli",
		}
		user := sampleUsers[rng.Intn(len(sampleUsers))]

		decision, err := engine.Evaluate(ctx, msg, trigger.ConversationContext{}, user)
		if err != nil {
			continue
		}

		// Roughly a fifth of decisions get feedback, half of it corrective.
		if rng.Intn(5) == 0 {
			actual := decision.Action
			if rng.Intn(2) == 0 {
				actual = trigger.ActionSave
			}
			engine.Feedback(decision.ID, actual)
		}
	}
}
