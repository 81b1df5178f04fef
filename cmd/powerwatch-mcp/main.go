package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/use-agent/powerwatch/models"
)

func main() {
	apiURL := os.Getenv("POWERWATCH_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	// Optional: the API may run without authentication.
	apiKey := os.Getenv("POWERWATCH_API_KEY")

	s := server.NewMCPServer(
		"powerwatch",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	getTool := mcp.NewTool("get_power_flow",
		mcp.WithDescription("Return the latest power-flow snapshot (solar, grid, battery, car, consumption and the mFRR balancing price) without touching the browser."),
		mcp.WithString("max_age",
			mcp.Description("Reject snapshots older than this Go duration, e.g. '90s' or '5m'"),
		),
	)
	s.AddTool(getTool, handleGetPowerFlow(apiURL, apiKey))

	refreshTool := mcp.NewTool("refresh_power_flow",
		mcp.WithDescription("Scrape the monitoring app now and return the resulting snapshot. Takes several seconds; falls back to the cached snapshot when the scrape fails."),
	)
	s.AddTool(refreshTool, handleRefreshPowerFlow(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiCall sends a request to the powerwatch API and decodes the envelope.
func apiCall(ctx context.Context, client *http.Client, method, endpoint, apiKey string) (*models.DataResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var out models.DataResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("parse response (status %d): %w", resp.StatusCode, err)
	}
	return &out, nil
}

func handleGetPowerFlow(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 15 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		endpoint := apiURL + "/api/v1/data"
		if maxAge := request.GetString("max_age", ""); maxAge != "" {
			endpoint += "?max_age=" + url.QueryEscape(maxAge)
		}

		resp, err := apiCall(ctx, client, http.MethodGet, endpoint, apiKey)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toolResult(resp), nil
	}
}

func handleRefreshPowerFlow(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 180 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		resp, err := apiCall(ctx, client, http.MethodPost, apiURL+"/api/v1/refresh", apiKey)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return toolResult(resp), nil
	}
}

func toolResult(resp *models.DataResponse) *mcp.CallToolResult {
	if !resp.Success || resp.Data == nil {
		errMsg := "no snapshot available"
		if resp.Error != nil {
			errMsg = fmt.Sprintf("[%s] %s", resp.Error.Code, resp.Error.Message)
		}
		return mcp.NewToolResultError(errMsg)
	}
	return mcp.NewToolResultText(formatSnapshot(resp))
}

// formatSnapshot renders a one-line-per-device summary followed by the raw
// snapshot JSON.
func formatSnapshot(resp *models.DataResponse) string {
	snap := resp.Data

	var sb strings.Builder
	age := (time.Duration(resp.AgeMs) * time.Millisecond).Round(time.Second)
	fmt.Fprintf(&sb, "Power flow at %s (age %s)\n", snap.Timestamp.Format(time.RFC3339), age)

	line := func(name string, load *int, status *string, extra string) {
		fmt.Fprintf(&sb, "%s: %s", name, watts(load))
		if extra != "" {
			sb.WriteString(", " + extra)
		}
		if status != nil {
			fmt.Fprintf(&sb, " (%s)", *status)
		}
		sb.WriteByte('\n')
	}
	line("Solar", snap.Solar.Load, snap.Solar.Status, "")
	line("Grid", snap.Grid.Load, snap.Grid.Status, "")
	soc := ""
	if snap.Battery.StateOfCharge != nil {
		soc = fmt.Sprintf("SoC %d%%", *snap.Battery.StateOfCharge)
	}
	line("Battery", snap.Battery.Load, snap.Battery.Status, soc)
	line("Car", snap.Car.Load, snap.Car.Status, "")
	line("Consumption", snap.Consumption.Load, snap.Consumption.Status, "")
	if snap.BalancingPrice != nil {
		fmt.Fprintf(&sb, "mFRR: %.2f\n", *snap.BalancingPrice)
	} else {
		sb.WriteString("mFRR: n/a\n")
	}

	if raw, err := json.MarshalIndent(snap, "", "  "); err == nil {
		sb.WriteString("\n")
		sb.Write(raw)
	}
	return sb.String()
}

func watts(v *int) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%d W", *v)
}
