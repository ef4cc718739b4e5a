package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/holdhq/counsel/model"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Get the status of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runList,
}

var logsCmd = &cobra.Command{
	Use:   "logs [session-id]",
	Short: "Stream session events until the session is summarized",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogs,
}

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "List available counselor personas",
	RunE:  runPersonas,
}

func init() {
	rootCmd.AddCommand(statusCmd, listCmd, logsCmd, personasCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var sess model.Session
	if err := call("GET", "/api/sessions/"+args[0], nil, &sess); err != nil {
		return err
	}

	fmt.Printf("Session:  %s\n", sess.ID)
	fmt.Printf("Mode:     %s\n", sess.Mode)
	fmt.Printf("Status:   %s\n", statusIcon(sess.Status))
	fmt.Printf("Phase:    %s\n", sess.Phase)
	fmt.Printf("Panel:    %s\n", strings.Join(sess.Participants, ", "))
	fmt.Printf("Round:    %d\n", sess.RoundCount)
	if sess.MaxRounds > 0 {
		fmt.Printf("Ceiling:  %d\n", sess.MaxRounds)
	}
	if sess.ParentID != "" {
		fmt.Printf("Revises:  %s\n", sess.ParentID)
	}
	fmt.Printf("Messages: %d\n", len(sess.Messages))
	fmt.Printf("Created:  %s\n", sess.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Updated:  %s\n", sess.UpdatedAt.Format("2006-01-02 15:04:05"))
	if t := topic(&sess); t != "" {
		fmt.Printf("Topic:    %s\n", model.Truncate(t, 500))
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	var sessions []*model.Session
	if err := call("GET", "/api/sessions", nil, &sessions); err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tMODE\tSTATUS\tPHASE\tTOPIC")
	for _, s := range sessions {
		t := topic(s)
		if t == "" {
			t = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", s.ID, s.Mode, statusIcon(s.Status), s.Phase, model.Truncate(t, 50))
	}
	return w.Flush()
}

func runPersonas(cmd *cobra.Command, args []string) error {
	var personas []*model.Persona
	if err := call("GET", "/api/personas", nil, &personas); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tRISK\tTONE")
	for _, p := range personas {
		risk := p.RiskTolerance
		if risk == "" {
			risk = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Name, risk, model.Truncate(p.Tone, 40))
	}
	return w.Flush()
}

func runLogs(cmd *cobra.Command, args []string) error {
	return streamEvents(args[0])
}

func streamEvents(sessionID string) error {
	req, _ := http.NewRequest("GET", serverURL+"/api/sessions/"+sessionID+"/events", nil)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to event stream: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server error (%d)", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var event model.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &event); err != nil {
			continue
		}

		switch event.Type {
		case model.EventStatus, model.EventPhase:
			fmt.Printf("\033[36m[%s]\033[0m %s\n", event.Type, event.Data)
		case model.EventTurn, model.EventIntervention:
			fmt.Println(event.Data)
		case model.EventWarning:
			fmt.Fprintf(os.Stderr, "\033[33m[warning]\033[0m %s\n", event.Data)
		case model.EventError:
			fmt.Fprintf(os.Stderr, "\033[31m[error]\033[0m %s\n", event.Data)
		case model.EventSummary:
			fmt.Printf("\n\033[32m✓ Summary:\033[0m %s\n", event.Data)
			return nil
		}
	}

	return scanner.Err()
}

// topic returns the opening user message of a session.
func topic(s *model.Session) string {
	for _, m := range s.Messages {
		if m.Speaker == model.SpeakerUser {
			return m.Content
		}
	}
	return ""
}

func statusIcon(status model.Status) string {
	switch status {
	case model.StatusIdle:
		return "⏳ idle"
	case model.StatusRunning:
		return "🔄 running"
	case model.StatusPaused:
		return "⏸ paused"
	case model.StatusEnded:
		return "✅ ended"
	default:
		return string(status)
	}
}
