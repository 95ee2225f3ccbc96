package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/deepnoodle-ai/screenflow/screening"
	"github.com/spf13/cobra"
)

func newSubmitCommand(flags *rootFlags) *cobra.Command {
	var (
		cvPath      string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "submit <application-id>",
		Short: "Submit a CV and run the pipeline until it waits for review",
		Long: "Submit a CV and run the pipeline until it waits for review.\n" +
			"The CV is read from --file, or from stdin when no file is given.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if interactive && cvPath == "" {
				return errors.New("--interactive needs the CV in --file")
			}
			cvText, err := readCV(cmd.InOrStdin(), cvPath)
			if err != nil {
				return err
			}
			a, err := flags.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			outcome, err := a.service.StartOrAdvance(cmd.Context(), args[0], screening.Input{CVText: cvText})
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return printJSON(out, outcome)
			}
			printOutcome(out, args[0], outcome)
			if !interactive || outcome.Status != screening.StatusWaitingReview {
				return nil
			}
			review, err := promptReview(cmd.InOrStdin(), out)
			if err != nil {
				return err
			}
			resumed, err := a.service.SubmitResume(cmd.Context(), args[0], review)
			if err != nil {
				return err
			}
			printResume(out, resumed)
			return nil
		},
	}
	cmd.Flags().StringVarP(&cvPath, "file", "f", "", "Path to the CV text file")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Prompt for a review when the pipeline waits")
	return cmd
}

func newReviewCommand(flags *rootFlags) *cobra.Command {
	var (
		approve     bool
		reject      bool
		decision    string
		notes       string
		editedPath  string
		showPending bool
	)
	cmd := &cobra.Command{
		Use:   "review <application-id>",
		Short: "Approve or reject an application waiting for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !showPending && approve == reject {
				return errors.New("exactly one of --approve or --reject is required")
			}
			a, err := flags.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if showPending {
				payload, err := a.service.PendingReview(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if flags.jsonOutput {
					return printJSON(out, payload)
				}
				printPayload(out, payload)
				return nil
			}

			review := screening.ReviewDecision{Approve: approve, Decision: decision, ReviewerNotes: notes}
			if editedPath != "" {
				data, err := os.ReadFile(editedPath)
				if err != nil {
					return fmt.Errorf("failed to read edited extraction: %w", err)
				}
				review.EditedExtracted = data
			}
			outcome, err := a.service.SubmitResume(cmd.Context(), args[0], review)
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return printJSON(out, outcome)
			}
			printResume(out, outcome)
			return nil
		},
	}
	cmd.Flags().BoolVar(&approve, "approve", false, "Approve the application")
	cmd.Flags().BoolVar(&reject, "reject", false, "Reject the application")
	cmd.Flags().StringVarP(&decision, "decision", "d", "", "Decision to record when approving (default Shortlist)")
	cmd.Flags().StringVarP(&notes, "notes", "n", "", "Reviewer notes")
	cmd.Flags().StringVar(&editedPath, "edited", "", "Path to a JSON file replacing the extracted candidate record")
	cmd.Flags().BoolVar(&showPending, "show", false, "Show the pending review instead of submitting one")
	return cmd
}

func newStatusCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status <application-id>",
		Short: "Show the stored record and checkpoint history of an application",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			history, err := a.service.History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			app, err := a.service.Application(cmd.Context(), args[0])
			if err != nil && !errors.Is(err, screening.ErrApplicationNotFound) {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return printJSON(out, map[string]any{"application": app, "history": history})
			}
			printApplication(out, app)
			printHistory(out, history)
			return nil
		},
	}
}

func newCancelCommand(flags *rootFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "cancel <application-id>",
		Short: "Withdraw an application that has not finished screening",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.service.Cancel(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return printJSON(out, outcome)
			}
			printOutcome(out, args[0], outcome)
			return nil
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Reason recorded with the cancellation")
	return cmd
}

func newThreadsCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "threads",
		Aliases: []string{"list"},
		Short:   "List every application known to the checkpoint store",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := flags.openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			threads, err := a.service.Threads(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if flags.jsonOutput {
				return printJSON(out, threads)
			}
			printThreads(out, threads)
			return nil
		},
	}
}

func readCV(stdin io.Reader, path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path != "" {
		data, err = os.ReadFile(path)
	} else {
		data, err = io.ReadAll(stdin)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read CV: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("CV text is empty")
	}
	return text, nil
}

// promptReview asks the reviewer for a decision on the terminal.
func promptReview(in io.Reader, out io.Writer) (screening.ReviewDecision, error) {
	reader := bufio.NewReader(in)
	ask := func(prompt string) (string, error) {
		fmt.Fprint(out, prompt)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("failed to read answer: %w", err)
		}
		return strings.TrimSpace(line), nil
	}

	var review screening.ReviewDecision
	answer, err := ask("Approve? [y/N]: ")
	if err != nil {
		return review, err
	}
	review.Approve = strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
	if review.Approve {
		if review.Decision, err = ask("Decision [Shortlist]: "); err != nil {
			return review, err
		}
	}
	if review.ReviewerNotes, err = ask("Notes: "); err != nil {
		return review, err
	}
	return review, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
