package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// newEventsCmd creates the "pulsed events" subcommand.
func newEventsCmd(stdout, stderr io.Writer) *cobra.Command {
	var (
		addr      string
		limit     int
		eventType string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recent events from a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdEvents(addr, limit, eventType, stdout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080",
		"base URL of the daemon's webhook server")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum events to show")
	cmd.Flags().StringVar(&eventType, "type", "", "filter by event type")
	return cmd
}

// cmdEvents fetches /events/recent and prints one line per event.
func cmdEvents(addr string, limit int, eventType string, stdout io.Writer) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if eventType != "" {
		q.Set("type", eventType)
	}

	resp, err := http.Get(strings.TrimRight(addr, "/") + "/events/recent?" + q.Encode())
	if err != nil {
		return fmt.Errorf("reach daemon at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&body)
		if body.Error != "" {
			return fmt.Errorf("events request failed: %s", body.Error)
		}
		return fmt.Errorf("events request returned %d", resp.StatusCode)
	}

	var body struct {
		Events         []map[string]any `json:"events"`
		TotalInHistory int              `json:"total_in_history"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("decode events: %w", err)
	}

	if len(body.Events) == 0 {
		fmt.Fprintln(stdout, "No events in history.")
		return nil
	}

	for _, e := range body.Events {
		line := fmt.Sprintf("%-22v %-12v %-8s", e["created_at"], e["type"], priorityName(e["priority"]))
		if user, ok := e["user_name"].(string); ok && user != "" {
			line += " @" + user
		}
		if content, ok := e["content"].(string); ok && content != "" {
			line += "  " + content
		}
		if result, ok := e["result"].(string); ok && result != "" {
			line += "  -> " + result
		}
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintf(stdout, "\n%d shown, %d in history\n", len(body.Events), body.TotalInHistory)
	return nil
}

// priorityName maps the numeric priority from the wire to its name.
func priorityName(v any) string {
	n, ok := v.(float64)
	if !ok {
		return fmt.Sprint(v)
	}
	switch int(n) {
	case 1:
		return "critical"
	case 2:
		return "high"
	case 3:
		return "normal"
	case 4:
		return "low"
	default:
		return fmt.Sprint(v)
	}
}
