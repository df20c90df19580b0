package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"switchboard/internal/session"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions with state and lineage",
	RunE:  runSessionsList,
}

var sessionsNewCmd = &cobra.Command{
	Use:   "new",
	Short: "Create a root session",
	RunE:  runSessionsNew,
}

var sessionMaxTokens int

func init() {
	sessionsNewCmd.Flags().IntVar(&sessionMaxTokens, "max-tokens", 128000, "model context window in tokens")
	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsNewCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store := session.NewFileStore(sessionsDir)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ids, err := store.List(ctx)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("no sessions")
		return nil
	}

	for _, id := range ids {
		conv, err := store.Get(ctx, id)
		if err != nil {
			fmt.Printf("%s  %s\n", id, color.RedString("unreadable: %v", err))
			continue
		}
		state := string(conv.State)
		switch conv.State {
		case session.StateActive:
			state = color.GreenString(state)
		case session.StatePaused:
			state = color.YellowString(state)
		}
		lineage := ""
		if conv.ParentSessionID != "" {
			lineage = fmt.Sprintf("  parent=%s", conv.ParentSessionID)
		}
		fmt.Printf("%s  %s  %d messages%s\n", id, state, len(conv.Messages), lineage)
	}
	return nil
}

func runSessionsNew(cmd *cobra.Command, args []string) error {
	store := session.NewFileStore(sessionsDir)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conv, err := store.Create(ctx, session.CreateRequest{ModelMaxTokens: sessionMaxTokens})
	if err != nil {
		return err
	}
	fmt.Println(conv.ID)
	return nil
}
