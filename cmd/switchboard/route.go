package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"switchboard/internal/audit"
	"switchboard/internal/config"
	"switchboard/internal/router"
	"switchboard/internal/session"
)

var (
	routeSession string
	routeTask    string
	routeExplain bool
	routeAppend  bool
)

var routeCmd = &cobra.Command{
	Use:   "route [message]",
	Short: "Route one message against a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoute,
}

func init() {
	routeCmd.Flags().StringVar(&routeSession, "session", "", "session id (required)")
	routeCmd.Flags().StringVar(&routeTask, "task", "general", "task type: general, coding, debugging")
	routeCmd.Flags().BoolVar(&routeExplain, "explain", false, "print fired signals and config provenance")
	routeCmd.Flags().BoolVar(&routeAppend, "append", false, "append the message to the resulting session")
	_ = routeCmd.MarkFlagRequired("session")
}

func runRoute(cmd *cobra.Command, args []string) error {
	message := args[0]

	cfg, meta, err := loadConfig()
	if err != nil {
		return err
	}

	store := session.NewFileStore(sessionsDir)
	strategy, err := buildStrategy()
	if err != nil {
		return fmt.Errorf("initialize semantic scorer: %w", err)
	}
	routerOpts := []router.RouterOption{router.WithStrategy(strategy)}
	if decisionLog != "" {
		routerOpts = append(routerOpts, router.WithRecorder(audit.NewRecorder(decisionLog)))
	}
	r, err := router.NewRouter(cfg, store, routerOpts...)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := r.Route(ctx, router.RouteRequest{
		ConversationID: routeSession,
		Message:        message,
		TaskType:       router.TaskType(routeTask),
	})
	if err != nil {
		fmt.Println(color.RedString("warning: %v", err))
		if resp.Decision == "" {
			return err
		}
	}

	printDecision(resp)
	if routeExplain {
		printExplain(resp, meta)
	}

	if routeAppend {
		msg := session.Message{Role: "user", Content: message, Timestamp: time.Now()}
		if err := r.Append(ctx, resp.SessionID, msg); err != nil {
			return fmt.Errorf("append message: %w", err)
		}
	}
	return nil
}

func printDecision(resp router.RouteResponse) {
	verdict := string(resp.Decision)
	switch resp.Decision {
	case router.DecisionContinue:
		verdict = color.GreenString(verdict)
	case router.DecisionPromptUser:
		verdict = color.YellowString(verdict)
	case router.DecisionNewSession, router.DecisionFork:
		verdict = color.CyanString(verdict)
	}
	fmt.Printf("%s  (confidence %.2f)\n", verdict, resp.Confidence)
	fmt.Printf("reason:  %s\n", resp.Reason)
	fmt.Printf("session: %s\n", resp.SessionID)
	if resp.SummaryCarryOver != "" {
		fmt.Printf("carry-over:\n%s\n", indent(resp.SummaryCarryOver))
	}
}

func printExplain(resp router.RouteResponse, meta config.Metadata) {
	bold := color.New(color.Bold)

	bold.Println("\nSignals fired:")
	if len(resp.SignalsFired) == 0 {
		fmt.Println("  (none)")
	}
	for _, signal := range resp.SignalsFired {
		fmt.Printf("  - %s\n", signal)
	}
	if len(resp.Degraded) > 0 {
		bold.Println("Degraded signals:")
		for _, signal := range resp.Degraded {
			fmt.Printf("  - %s\n", color.YellowString(signal))
		}
	}

	overridden := meta.Overridden()
	bold.Println("Config provenance:")
	if meta.ConfigFile() != "" {
		fmt.Printf("  file: %s\n", meta.ConfigFile())
	}
	if len(overridden) == 0 {
		fmt.Println("  all values at defaults")
		return
	}
	keys := make([]string, 0, len(overridden))
	for key := range overridden {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Printf("  %s: %s\n", key, overridden[key])
	}
}

func indent(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = "  " + line
	}
	return strings.Join(lines, "\n")
}
