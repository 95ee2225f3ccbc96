package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/deepnoodle-ai/screenflow"
	"github.com/deepnoodle-ai/screenflow/screening"
	"github.com/fatih/color"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warnColor    = color.New(color.FgYellow)
	errorColor   = color.New(color.FgRed)
	labelColor   = color.New(color.FgBlue)
)

func printOutcome(out io.Writer, applicationID string, outcome *screening.Outcome) {
	headerColor.Fprintf(out, "Application %s\n", applicationID)
	switch outcome.Status {
	case screening.StatusWaitingReview:
		warnColor.Fprintln(out, "Status: waiting for review")
	case screening.StatusCancelled:
		errorColor.Fprintln(out, "Status: cancelled")
	default:
		successColor.Fprintf(out, "Status: %s\n", outcome.Status)
	}
	printDraft(out, &outcome.Draft)
	if outcome.Interrupt != nil {
		fmt.Fprintln(out)
		printPayload(out, outcome.Interrupt)
	}
}

func printDraft(out io.Writer, draft *screening.Draft) {
	printField(out, "Score", fmt.Sprintf("%d", draft.Score))
	printField(out, "Flags", joinOrNone(draft.Flags))
	printField(out, "Decision", stringOrNone(draft.Decision))
	if name, ok := draft.Extracted["name"].(string); ok && name != "" {
		printField(out, "Candidate", name)
	}
}

func printPayload(out io.Writer, payload *screening.ReviewPayload) {
	headerColor.Fprintln(out, "Pending review")
	printField(out, "Score", fmt.Sprintf("%d", payload.Score))
	printField(out, "Flags", joinOrNone(payload.Flags))
	if payload.Recommendation == screening.RecommendNextRound {
		printField(out, "Recommendation", successColor.Sprint(payload.Recommendation))
	} else {
		printField(out, "Recommendation", warnColor.Sprint(payload.Recommendation))
	}
	if skills, ok := payload.Extracted["skills"].([]any); ok && len(skills) > 0 {
		names := make([]string, 0, len(skills))
		for _, skill := range skills {
			names = append(names, fmt.Sprint(skill))
		}
		printField(out, "Skills", strings.Join(names, ", "))
	}
}

func printResume(out io.Writer, outcome *screening.ResumeOutcome) {
	if !outcome.OK {
		errorColor.Fprintln(out, outcome.Message)
		return
	}
	successColor.Fprintln(out, "Review recorded")
	printApplication(out, outcome.Final)
}

func printApplication(out io.Writer, app *screening.Application) {
	if app == nil {
		warnColor.Fprintln(out, "No stored record")
		return
	}
	headerColor.Fprintf(out, "Record %d (%s)\n", app.ID, app.ApplicationID)
	if app.Score != nil {
		printField(out, "Score", fmt.Sprintf("%d", *app.Score))
	} else {
		printField(out, "Score", "none")
	}
	printField(out, "Flags", joinOrNone(app.Flags))
	printField(out, "Decision", stringOrNone(app.Decision))
	printField(out, "Notes", stringOrNone(app.ReviewerNotes))
	printField(out, "Updated", app.UpdatedAt.Format(time.RFC3339))
}

func printHistory(out io.Writer, history []*screening.HistoryEntry) {
	headerColor.Fprintln(out, "History")
	for _, entry := range history {
		line := fmt.Sprintf("  #%d %-9s stage=%s next=%s score=%d decision=%s",
			entry.Sequence, entry.Status, orDash(entry.Stage), orDash(entry.NextStage),
			entry.Score, stringOrNone(entry.Decision))
		if entry.Error != "" {
			line += " error=" + entry.Error
		}
		fmt.Fprintln(out, line)
	}
}

func printThreads(out io.Writer, threads []*screenflow.ThreadSummary) {
	if len(threads) == 0 {
		warnColor.Fprintln(out, "No applications")
		return
	}
	headerColor.Fprintf(out, "%-24s %-10s %-18s %s\n", "APPLICATION", "STATUS", "NEXT STAGE", "UPDATED")
	for _, thread := range threads {
		status := fmt.Sprintf("%-10s", thread.Status)
		switch thread.Status {
		case screenflow.ThreadStatusCompleted:
			status = successColor.Sprint(status)
		case screenflow.ThreadStatusSuspended:
			status = warnColor.Sprint(status)
		case screenflow.ThreadStatusCancelled:
			status = errorColor.Sprint(status)
		}
		fmt.Fprintf(out, "%-24s %s %-18s %s\n",
			thread.ThreadID, status, orDash(thread.NextStage), thread.UpdatedAt.Format(time.RFC3339))
	}
}

func printField(out io.Writer, label, value string) {
	labelColor.Fprintf(out, "  %-15s", label+":")
	fmt.Fprintln(out, value)
}

func joinOrNone(values []string) string {
	if len(values) == 0 {
		return "none"
	}
	return strings.Join(values, ", ")
}

func stringOrNone(s *string) string {
	if s == nil {
		return "none"
	}
	return *s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
