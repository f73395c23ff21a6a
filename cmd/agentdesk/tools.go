package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"agentdesk/internal/domain"
	"agentdesk/internal/history"
	"agentdesk/internal/marker"
)

func boundCmd() *cobra.Command {
	var (
		limits history.Limits
		stats  bool
	)
	cmd := &cobra.Command{
		Use:   "bound [file]",
		Short: "Bound a stored conversation JSON array and print the result",
		Long: "Reads a JSON array of {role, content} entries from a file (or stdin when omitted or \"-\"),\n" +
			"applies the history bounder and prints the surviving messages oldest-first.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			msgs, st := boundData(data, limits)
			if stats {
				fmt.Fprintf(cmd.ErrOrStderr(), "input=%d window=%d invalid=%d truncated=%d budget_cut=%t kept=%d\n",
					st.Input, st.Window, st.Invalid, st.Truncated, st.BudgetCut, st.Kept)
			}
			return writeJSON(cmd.OutOrStdout(), msgs)
		},
	}
	cmd.Flags().IntVar(&limits.MaxMessages, "max-messages", 0, "messages considered, newest first (default 24)")
	cmd.Flags().IntVar(&limits.MaxHistoryChars, "max-history-chars", 0, "total character budget (default 24000)")
	cmd.Flags().IntVar(&limits.MaxMessageChars, "max-message-chars", 0, "per-message cap before tail truncation (default 3000)")
	cmd.Flags().BoolVar(&stats, "stats", false, "print bounding statistics to stderr")
	return cmd
}

func markersCmd() *cobra.Command {
	var strip []string
	cmd := &cobra.Command{
		Use:   "markers [file]",
		Short: "Extract and strip control markers from a model reply",
		Long: "Reads a raw model reply from a file (or stdin), prints the extracted markers and cleaned text as JSON.\n" +
			"With --strip only the named kinds are removed and the text is printed as-is.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd, args)
			if err != nil {
				return err
			}
			if len(strip) > 0 {
				kinds, err := parseKinds(strip)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), marker.Strip(string(data), kinds...))
				return nil
			}
			return writeJSON(cmd.OutOrStdout(), marker.Process(string(data)))
		},
	}
	cmd.Flags().StringSliceVar(&strip, "strip", nil, "marker kinds to strip (e.g. DATA,ESCALATE)")
	return cmd
}

// boundData decodes untrusted history JSON and bounds it. Undecodable input
// bounds to an empty list.
func boundData(data []byte, limits history.Limits) ([]domain.ConversationMessage, history.Stats) {
	raw, _ := history.DecodeRaw(data)
	msgs, st := history.BoundWithStats(raw, limits)
	if msgs == nil {
		msgs = []domain.ConversationMessage{}
	}
	return msgs, st
}

func parseKinds(names []string) ([]marker.Kind, error) {
	kinds := make([]marker.Kind, 0, len(names))
	for _, n := range names {
		k, ok := marker.ParseKind(strings.ToUpper(strings.TrimSpace(n)))
		if !ok {
			return nil, fmt.Errorf("unknown marker kind %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

func readInput(cmd *cobra.Command, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return data, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
