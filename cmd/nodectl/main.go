package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
)

// nodectl registers a node with a running monitor daemon. Good enough for
// quick manual setup; anything fancier goes through the API directly.
func main() {
	api := os.Getenv("API_BASE")
	if api == "" {
		api = "http://localhost:8080"
	}
	key := os.Getenv("API_KEY")

	reader := bufio.NewReader(os.Stdin)
	name := prompt(reader, "Node name (e.g., core-router): ")
	kind := strings.ToLower(prompt(reader, "Check type [http/tcp/ping/ssh]: "))

	detail := map[string]any{"type": kind}
	switch kind {
	case "http":
		raw := prompt(reader, "URL (e.g., https://example.com): ")
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		detail["url"] = raw
	case "tcp", "ssh":
		detail["host"] = prompt(reader, "Host: ")
		detail["port"] = promptInt(reader, "Port: ")
	case "ping":
		detail["host"] = prompt(reader, "Host: ")
		detail["count"] = 3
	default:
		fmt.Println("Unknown check type.")
		return
	}

	interval := promptInt(reader, "Check interval in seconds (e.g., 30): ")

	body, _ := json.Marshal(map[string]any{
		"name":                name,
		"monitoring_interval": interval,
		"detail":              detail,
	})
	req, _ := http.NewRequest(http.MethodPost, api+"/api/nodes", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Println("Error contacting API:", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		fmt.Println("Added! Check GET /api/status for live state.")
	} else {
		fmt.Println("API returned status:", resp.Status)
	}
}

func prompt(r *bufio.Reader, msg string) string {
	fmt.Print(msg)
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}

func promptInt(r *bufio.Reader, msg string) int {
	n, _ := strconv.Atoi(prompt(r, msg))
	return n
}
