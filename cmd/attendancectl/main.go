package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "attendancectl",
	Short: "Control the automatic attendance agent",
	Long: `attendancectl talks to a running attendance agent over its HTTP API.

It starts and stops background attendance, runs a manual check and shows
what the agent knows about today's attendance.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"attendancectl version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	defaultAgent := os.Getenv("AGENT_URL")
	if defaultAgent == "" {
		defaultAgent = "http://localhost:8080"
	}
	rootCmd.PersistentFlags().String("agent", defaultAgent, "Agent base URL")

	rootCmd.AddCommand(backgroundCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(geofenceCmd)
}

// Background commands
var backgroundCmd = &cobra.Command{
	Use:   "background",
	Short: "Manage background attendance",
}

var backgroundStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Register polling and office geofences",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Registered bool `json:"registered"`
		}
		if err := clientFor(cmd).call(cmd.Context(), "POST", "/api/v1/background/start", nil, &resp); err != nil {
			return err
		}
		if !resp.Registered {
			fmt.Fprintln(cmd.OutOrStdout(), "Background attendance unavailable on this device")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Background attendance started")
		return nil
	},
}

var backgroundStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Unregister polling and geofences",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Stopped bool `json:"stopped"`
		}
		if err := clientFor(cmd).call(cmd.Context(), "POST", "/api/v1/background/stop", nil, &resp); err != nil {
			return err
		}
		if !resp.Stopped {
			return fmt.Errorf("agent could not stop background attendance cleanly")
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Background attendance stopped")
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run a manual attendance check now",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp manualResponse
		if err := clientFor(cmd).call(cmd.Context(), "POST", "/api/v1/attendance/manual", nil, &resp); err != nil {
			return err
		}
		printResult(cmd, resp)
		if !resp.OK && resp.Result.Outcome == "FAILED" {
			return fmt.Errorf("attendance not marked")
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show background registration and the last marked day",
	RunE: func(cmd *cobra.Command, args []string) error {
		var st statusResponse
		if err := clientFor(cmd).call(cmd.Context(), "GET", "/api/v1/status", nil, &st); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Registered:    %t\n", st.Registered)
		fmt.Fprintf(out, "Regions:       %d\n", st.RegionCount)
		last := st.LastMarked
		if last == "" {
			last = "never"
		}
		fmt.Fprintf(out, "Last marked:   %s\n", last)
		fmt.Fprintf(out, "Notifications: %t\n", st.NotificationsEnabled)
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login TOKEN",
	Short: "Store the backend bearer token on the agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"token": args[0]}
		if err := clientFor(cmd).call(cmd.Context(), "PUT", "/api/v1/token", body, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Token stored")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := clientFor(cmd).call(cmd.Context(), "PUT", "/api/v1/token", map[string]string{"token": ""}, nil); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

// Geofence commands
var geofenceCmd = &cobra.Command{
	Use:   "geofence",
	Short: "Manage office geofences",
}

var geofenceRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-fetch office locations and re-register regions",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Regions int `json:"regions"`
		}
		if err := clientFor(cmd).call(cmd.Context(), "POST", "/api/v1/geofence/refresh", nil, &resp); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Monitoring %d office regions\n", resp.Regions)
		return nil
	},
}

func init() {
	backgroundCmd.AddCommand(backgroundStartCmd)
	backgroundCmd.AddCommand(backgroundStopCmd)
	geofenceCmd.AddCommand(geofenceRefreshCmd)
	rootCmd.AddCommand(logoutCmd)
}

func clientFor(cmd *cobra.Command) *agentClient {
	base, _ := cmd.Flags().GetString("agent")
	return newAgentClient(base)
}

func printResult(cmd *cobra.Command, resp manualResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Outcome: %s", resp.Result.Outcome)
	if resp.Result.Reason != "" {
		fmt.Fprintf(out, " (%s)", resp.Result.Reason)
	}
	fmt.Fprintln(out)
	if resp.Result.Message != "" {
		fmt.Fprintf(out, "Message: %s\n", resp.Result.Message)
	}
	if resp.Result.LowConfidence {
		fmt.Fprintln(out, "Warning: location fix was imprecise")
	}
}
