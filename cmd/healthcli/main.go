// healthcli probes the platform's health endpoint from outside the
// process — the same three-bucket model cmd/server exposes over HTTP,
// wrapped in exit codes a container orchestrator or cron-based monitor
// can act on directly (spec §6).
//
// Usage: healthcli <live|ready|dep> [--timeout seconds] [--include-data] [--json]
//
// Exit codes:
//
//	0  Healthy
//	1  NonHealthy
//	2  Misconfiguration (unrecognized bucket)
//	3  InvalidArguments (unknown flag, bad flag value)
//	4  Exception (could not reach the endpoint, or malformed response)
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const (
	exitHealthy          = 0
	exitNonHealthy       = 1
	exitMisconfiguration = 2
	exitInvalidArguments = 3
	exitException        = 4
)

var bucketPaths = map[string]string{
	"live":  "/healthz",
	"ready": "/readyz",
	"dep":   "/health/dep",
}

type healthResponse struct {
	Bucket          string        `json:"bucket"`
	Status          string        `json:"status"`
	TotalDurationMs int64         `json:"totalDurationMs"`
	Checks          []checkResult `json:"checks,omitempty"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("healthcli", flag.ContinueOnError)
	fs.SetOutput(stderr)

	timeoutSec := fs.Int("timeout", 5, "request timeout in seconds")
	includeData := fs.Bool("include-data", false, "include per-check detail in text output")
	asJSON := fs.Bool("json", false, "emit the raw JSON response instead of a text summary")
	addr := fs.String("addr", "http://localhost:8080", "base URL of the running server")

	const usage = "usage: healthcli <live|ready|dep> [--timeout seconds] [--include-data] [--json] [--addr url]"
	if err := fs.Parse(args); err != nil {
		return exitInvalidArguments
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(stderr, usage)
		return exitInvalidArguments
	}

	bucket := fs.Arg(0)
	if err := fs.Parse(fs.Args()[1:]); err != nil {
		return exitInvalidArguments
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, usage)
		return exitInvalidArguments
	}
	path, ok := bucketPaths[bucket]
	if !ok {
		fmt.Fprintf(stderr, "unrecognized bucket %q, expected one of live, ready, dep\n", bucket)
		return exitMisconfiguration
	}

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}
	resp, err := client.Get(*addr + path)
	if err != nil {
		fmt.Fprintf(stderr, "request to %s%s failed: %v\n", *addr, path, err)
		return exitException
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(stderr, "read response body: %v\n", err)
		return exitException
	}

	var result healthResponse
	if err := json.Unmarshal(body, &result); err != nil {
		fmt.Fprintf(stderr, "parse response body: %v\n", err)
		return exitException
	}

	if *asJSON {
		fmt.Fprintln(stdout, string(body))
	} else {
		fmt.Fprintf(stdout, "%s: %s (%dms)\n", bucket, result.Status, result.TotalDurationMs)
		if *includeData {
			for _, check := range result.Checks {
				if check.Error != "" {
					fmt.Fprintf(stdout, "  %s: %s (%s)\n", check.Name, check.Status, check.Error)
				} else {
					fmt.Fprintf(stdout, "  %s: %s\n", check.Name, check.Status)
				}
			}
		}
	}

	if result.Status != "Healthy" {
		return exitNonHealthy
	}
	return exitHealthy
}
