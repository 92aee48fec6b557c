package main

import (
	"fmt"
	"io"
	"net/http"
)

// runHealthCmd pings the locally running server's health endpoint.
func runHealthCmd(stdout, stderr io.Writer) int {
	resp, err := http.Get("http://localhost:8081/health")
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = fmt.Fprintf(stderr, "Health check failed: status %d\n", resp.StatusCode)
		return 1
	}

	_, _ = fmt.Fprintln(stdout, "OK")
	return 0
}
