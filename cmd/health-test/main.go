package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Services  struct {
		Store struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		} `json:"store"`
		Queue struct {
			Status string `json:"status"`
			Depth  int    `json:"depth"`
		} `json:"queue"`
		LLM *struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		} `json:"llm,omitempty"`
	} `json:"services"`
}

func main() {
	url := "http://localhost:8080/health"
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	fmt.Printf("🔍 Testing health endpoint: %s\n", url)

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		fmt.Printf("❌ Error connecting to health endpoint: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Printf("❌ Error reading response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("📊 Response Status: %s\n", resp.Status)

	var health HealthResponse
	if err := json.Unmarshal(body, &health); err != nil {
		fmt.Printf("❌ Error parsing JSON response: %v\n", err)
		fmt.Printf("📄 Response Body: %s\n", string(body))
		os.Exit(1)
	}

	if resp.StatusCode != http.StatusOK || (health.Status != "ok" && health.Status != "degraded") {
		fmt.Printf("❌ Health check failed: status=%s code=%d\n", health.Status, resp.StatusCode)
		if health.Services.Store.Error != "" {
			fmt.Printf("   Store error: %s\n", health.Services.Store.Error)
		}
		os.Exit(1)
	}

	if health.Status == "degraded" {
		fmt.Printf("⚠️  Health check passed with degraded backends\n")
	} else {
		fmt.Printf("✅ Health check passed!\n")
	}
	fmt.Printf("   Version: %s\n", health.Version)
	fmt.Printf("   Store: %s\n", health.Services.Store.Status)
	fmt.Printf("   Queue depth: %d\n", health.Services.Queue.Depth)
	if llm := health.Services.LLM; llm != nil {
		fmt.Printf("   LLM: %s %s\n", llm.Status, llm.Error)
	}
	fmt.Printf("   Timestamp: %s\n", health.Timestamp)
}
