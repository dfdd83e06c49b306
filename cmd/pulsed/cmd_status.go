package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/pulsekit/daemon"
)

// newStatusCmd creates the "pulsed status" subcommand.
func newStatusCmd(stdout, stderr io.Writer) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the status of a running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdStatus(addr, stdout)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://127.0.0.1:8080",
		"base URL of the daemon's webhook server")
	return cmd
}

// cmdStatus fetches /status and prints a human-readable summary.
func cmdStatus(addr string, stdout io.Writer) error {
	resp, err := http.Get(strings.TrimRight(addr, "/") + "/status")
	if err != nil {
		return fmt.Errorf("reach daemon at %s: %w", addr, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("daemon at %s has no status endpoint attached", addr)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status request returned %d", resp.StatusCode)
	}

	var status daemon.Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("decode status: %w", err)
	}

	state := "stopped"
	if status.Running {
		state = "running"
	}
	fmt.Fprintf(stdout, "Daemon:     %s (%s)\n", state, status.Health)
	fmt.Fprintf(stdout, "Uptime:     %s\n", formatSeconds(status.UptimeSeconds))
	fmt.Fprintf(stdout, "Heartbeats: %d\n", status.HeartbeatsSent)
	fmt.Fprintf(stdout, "Tasks run:  %d\n", status.TasksExecuted)
	fmt.Fprintf(stdout, "Restarts:   %d\n", status.ComponentRestarts)

	if len(status.Components) > 0 {
		fmt.Fprintln(stdout, "\nComponents:")
		for _, c := range status.Components {
			line := fmt.Sprintf("  %-12s %s", c.Name, c.Status)
			if c.Restarts > 0 {
				line += fmt.Sprintf("  (restarts: %d)", c.Restarts)
			}
			if c.LastError != "" {
				line += "  last error: " + c.LastError
			}
			fmt.Fprintln(stdout, line)
		}
	}

	if len(status.Tasks) > 0 {
		fmt.Fprintln(stdout, "\nScheduled tasks:")
		for _, t := range status.Tasks {
			fmt.Fprintf(stdout, "  %-20s every %s  runs=%d errors=%d\n",
				t.Name, formatSeconds(t.IntervalSeconds), t.Runs, t.Errors)
		}
	}
	return nil
}

// formatSeconds renders a float second count as a rounded duration.
func formatSeconds(s float64) string {
	return (time.Duration(s) * time.Second).Round(time.Second).String()
}
