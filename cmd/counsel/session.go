package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/holdhq/counsel/model"
)

var (
	startParticipants []string
	startMode         string
	startModel        string
	startContext      string
	startMaxRounds    int
	debateTurns       int
	reviseNote        string
)

var startCmd = &cobra.Command{
	Use:   "start [topic]",
	Short: "Start a decision session",
	Long: `Create a session on a topic. One participant starts a solo session,
two or more start a mesa debate.

Example:
  counsel start "Should we raise a seed round?" -p pragmatist
  counsel start "Should we raise a seed round?" -p skeptic,visionary,operator --max-rounds 2`,
	Args: cobra.ExactArgs(1),
	RunE: runStart,
}

var turnCmd = &cobra.Command{
	Use:   "turn [session-id]",
	Short: "Let the next counselor speak",
	Args:  cobra.ExactArgs(1),
	RunE:  runTurn,
}

var debateCmd = &cobra.Command{
	Use:   "debate [session-id]",
	Short: "Run counselor turns until the round ceiling or --turns",
	Args:  cobra.ExactArgs(1),
	RunE:  runDebate,
}

var sayCmd = &cobra.Command{
	Use:   "say [session-id] [text]",
	Short: "Inject a message into the session",
	Long: `Inject a user intervention. The next counselor turn answers it.
In a solo session the counselor replies right away.`,
	Args: cobra.ExactArgs(2),
	RunE: runSay,
}

var pauseCmd = &cobra.Command{
	Use:   "pause [session-id]",
	Short: "Pause a running session",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionCmd("/pause"),
}

var resumeCmd = &cobra.Command{
	Use:   "resume [session-id]",
	Short: "Resume a paused session",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionCmd("/resume"),
}

var phaseCmd = &cobra.Command{
	Use:   "phase [session-id]",
	Short: "Advance the session to the next HOLD phase",
	Args:  cobra.ExactArgs(1),
	RunE:  transitionCmd("/phase"),
}

var endCmd = &cobra.Command{
	Use:   "end [session-id]",
	Short: "End a session and print its summary",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnd,
}

var summaryRegenerate bool

var summaryCmd = &cobra.Command{
	Use:   "summary [session-id]",
	Short: "Show the summary of an ended session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSummary,
}

var reviseCmd = &cobra.Command{
	Use:   "revise [session-id]",
	Short: "Open a revision session on an ended session's decisions",
	Args:  cobra.ExactArgs(1),
	RunE:  runRevise,
}

func init() {
	startCmd.Flags().StringSliceVarP(&startParticipants, "participants", "p", nil, "Persona IDs (comma separated)")
	startCmd.Flags().StringVarP(&startMode, "mode", "m", "", "Session mode (solo, mesa); inferred from participants when empty")
	startCmd.Flags().StringVar(&startModel, "model", "", "Model override for this session")
	startCmd.Flags().StringVar(&startContext, "context", "", "Project context shared with every counselor")
	startCmd.Flags().IntVar(&startMaxRounds, "max-rounds", 0, "Round ceiling for debates (0 uses the server default)")
	startCmd.MarkFlagRequired("participants")

	debateCmd.Flags().IntVarP(&debateTurns, "turns", "n", 0, "Number of turns (0 runs to the round ceiling)")
	summaryCmd.Flags().BoolVar(&summaryRegenerate, "regenerate", false, "Run extraction again")
	reviseCmd.Flags().StringVar(&reviseNote, "note", "", "What should be reconsidered")

	rootCmd.AddCommand(startCmd, turnCmd, debateCmd, sayCmd, pauseCmd, resumeCmd, phaseCmd, endCmd, summaryCmd, reviseCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	req := map[string]any{
		"topic":        args[0],
		"participants": startParticipants,
	}
	if startMode != "" {
		req["mode"] = startMode
	}
	if startModel != "" {
		req["model"] = startModel
	}
	if startContext != "" {
		req["project_context"] = startContext
	}
	if startMaxRounds > 0 {
		req["max_rounds"] = startMaxRounds
	}

	var sess model.Session
	if err := call("POST", "/api/sessions", req, &sess); err != nil {
		return err
	}
	fmt.Printf("Session %s started (%s, %s)\n", sess.ID, sess.Mode, strings.Join(sess.Participants, ", "))
	fmt.Printf("Next: counsel turn %s\n", sess.ID)
	return nil
}

func runTurn(cmd *cobra.Command, args []string) error {
	var msg model.Message
	if err := call("POST", "/api/sessions/"+args[0]+"/turns", nil, &msg); err != nil {
		return err
	}
	printMessage(&msg)
	return nil
}

func runDebate(cmd *cobra.Command, args []string) error {
	var resp struct {
		Messages []*model.Message `json:"messages"`
		Error    string           `json:"error"`
	}
	if err := call("POST", "/api/sessions/"+args[0]+"/debate", map[string]int{"max_turns": debateTurns}, &resp); err != nil {
		return err
	}
	for _, m := range resp.Messages {
		printMessage(m)
	}
	if resp.Error != "" {
		return fmt.Errorf("debate stopped after %d turns: %s", len(resp.Messages), resp.Error)
	}
	return nil
}

func runSay(cmd *cobra.Command, args []string) error {
	id := args[0]
	if err := call("POST", "/api/sessions/"+id+"/interventions", map[string]string{"text": args[1]}, nil); err != nil {
		return err
	}

	var sess model.Session
	if err := call("GET", "/api/sessions/"+id, nil, &sess); err != nil {
		return err
	}
	if sess.Mode != model.ModeSolo {
		fmt.Println("Intervention queued for the next turn.")
		return nil
	}
	return runTurn(cmd, args[:1])
}

func transitionCmd(path string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		var sess model.Session
		if err := call("POST", "/api/sessions/"+args[0]+path, nil, &sess); err != nil {
			return err
		}
		fmt.Printf("Session %s: %s, phase %s\n", sess.ID, statusIcon(sess.Status), sess.Phase)
		return nil
	}
}

func runEnd(cmd *cobra.Command, args []string) error {
	var sum model.Summary
	if err := call("POST", "/api/sessions/"+args[0]+"/end", nil, &sum); err != nil {
		return err
	}
	printSummary(&sum)
	return nil
}

func runSummary(cmd *cobra.Command, args []string) error {
	method := "GET"
	if summaryRegenerate {
		method = "POST"
	}
	var sum model.Summary
	if err := call(method, "/api/sessions/"+args[0]+"/summary", nil, &sum); err != nil {
		return err
	}
	printSummary(&sum)
	return nil
}

func runRevise(cmd *cobra.Command, args []string) error {
	var req any
	if reviseNote != "" {
		req = map[string]string{"topic": reviseNote}
	}
	var sess model.Session
	if err := call("POST", "/api/sessions/"+args[0]+"/revisions", req, &sess); err != nil {
		return err
	}
	fmt.Printf("Revision session %s opened at phase %s\n", sess.ID, sess.Phase)
	return nil
}

func printMessage(m *model.Message) {
	if m.Speaker == model.SpeakerUser {
		fmt.Printf("\033[33m[you]\033[0m %s\n\n", m.Content)
		return
	}
	fmt.Printf("\033[36m%s [%s]\033[0m\n%s\n\n", m.SpeakerName, m.Phase, m.Content)
}

func printSummary(sum *model.Summary) {
	if sum.Degraded {
		fmt.Printf("\033[33m⚠ Decisions could not be extracted\033[0m\n")
	}
	fmt.Printf("Summary: %s\n", sum.Text)
	if len(sum.Decisions) == 0 {
		return
	}
	fmt.Println("\nDecisions:")
	for i, d := range sum.Decisions {
		fmt.Printf("  %d. %s [%s]\n", i+1, d.Text, d.Status)
		if d.Context != "" {
			fmt.Printf("     %s\n", d.Context)
		}
	}
}
