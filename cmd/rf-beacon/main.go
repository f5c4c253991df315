package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"rf-discovery/internal/session"
)

func main() {
	configPath := flag.String("config", envOr("RF_BEACON_CONFIG", ""), "Path to session config YAML/JSON")
	seed := flag.Int64("seed", 0, "Seed for the simulated channel (0=derive from clock)")
	adaptive := flag.Bool("adaptive", false, "Enable the adaptive responder in the simulated channel")
	responderGain := flag.Float64("responder-gain", 0.8, "Echo gain of the adaptive responder")
	noisePower := flag.Float64("noise-power", 0, "Simulated noise power override (0=default)")
	maxIterations := flag.Int("max-iterations", 0, "Override max probe iterations (0=config value)")
	sessionID := flag.String("session-id", "", "Session ID override (default: timestamp)")
	logDir := flag.String("log-dir", "", "Write per-iteration JSONL records to this directory")
	timeout := flag.Duration("timeout", 10*time.Minute, "Overall session timeout")
	format := flag.String("format", "text", "Output format: text|json")
	strict := flag.Bool("strict", false, "Exit non-zero when the session ends undecided")
	flag.Parse()

	cfg, err := session.LoadConfig(*configPath)
	if err != nil {
		exitWith("failed to load config: " + err.Error())
	}
	if *maxIterations > 0 {
		cfg.MaxIterations = *maxIterations
	}

	channelSeed := *seed
	if channelSeed == 0 {
		channelSeed = time.Now().UnixNano()
	}
	simOpts := []session.SimOption{}
	if *adaptive {
		simOpts = append(simOpts, session.WithAdaptiveResponder(*responderGain))
	}
	if *noisePower > 0 {
		simOpts = append(simOpts, session.WithNoisePower(*noisePower))
	}
	channel := session.NewSimChannel(channelSeed, simOpts...)

	opts := []session.DriverOption{
		session.WithLogger(slog.Default()),
	}
	if *sessionID != "" {
		opts = append(opts, session.WithSessionID(*sessionID))
	}
	if *logDir != "" {
		id := *sessionID
		if id == "" {
			id = time.Now().UTC().Format("20060102_150405")
			opts = append(opts, session.WithSessionID(id))
		}
		recorder, recErr := session.NewJSONLRecorder(*logDir, id)
		if recErr != nil {
			exitWith("failed to open log dir: " + recErr.Error())
		}
		defer recorder.Close()
		opts = append(opts, session.WithRecorder(recorder))
	}

	driver, err := session.NewDriver(cfg, channel, opts...)
	if err != nil {
		exitWith("failed to build session driver: " + err.Error())
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	result, err := driver.Run(ctx)
	if err != nil {
		exitWith("session failed: " + err.Error())
	}

	switch strings.ToLower(strings.TrimSpace(*format)) {
	case "json":
		printJSON(result)
	default:
		printText(result)
	}

	if *strict && result.Outcome == session.OutcomeUndecided {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func printText(result *session.Result) {
	fmt.Printf("Session: %s\n", result.SessionID)
	fmt.Printf("Outcome: %s\n", result.Outcome)
	fmt.Printf("Steps: %d\n", result.Steps)
	fmt.Printf("Final log-odds: %.4f\n", result.FinalLogOdds)
	if result.Baseline != nil {
		fmt.Printf("Baseline: mean=%.6g std=%.6g\n", result.Baseline.Mean, result.Baseline.StdDev)
	}
	if len(result.ProbesUsed) > 0 {
		kinds := make([]string, 0, len(result.ProbesUsed))
		for kind := range result.ProbesUsed {
			kinds = append(kinds, kind)
		}
		sort.Strings(kinds)
		fmt.Println("Probes used:")
		for _, kind := range kinds {
			fmt.Printf("  %s: %d\n", kind, result.ProbesUsed[kind])
		}
	}
}

func printJSON(result *session.Result) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		exitWith("failed to encode result JSON: " + err.Error())
	}
	fmt.Println(string(data))
}

func exitWith(message string) {
	fmt.Fprintln(os.Stderr, "error:", message)
	os.Exit(2)
}
