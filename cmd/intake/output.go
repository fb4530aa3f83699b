package main

import (
	"fmt"
	"io"
	"os"

	"github.com/kalambet/intake/internal/pipeline"
	"github.com/kalambet/intake/internal/storage"
	"github.com/kalambet/intake/internal/validate"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

func printSuccess(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+msg))
}

func printError(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+msg))
}

func printWarning(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+msg))
}

func printStep(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+msg))
}

func statusColor(status string) string {
	switch status {
	// Record and phase statuses share the strings completed and failed.
	case storage.RecordCompleted:
		return colorGreen
	case storage.RecordFailed:
		return colorRed
	case storage.PhaseSkipped, storage.RecordPending:
		return colorYellow
	default:
		return colorCyan
	}
}

func writeField(w io.Writer, label, format string, args ...any) {
	fmt.Fprintf(w, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func writeValidation(w io.Writer, res validate.Result) {
	if res.IsValid {
		writeField(w, "Valid", "%s", colorize(colorGreen, "yes"))
	} else {
		writeField(w, "Valid", "%s", colorize(colorRed, "no"))
	}
	writeField(w, "Length", "%d", res.Length)
	for _, e := range res.Errors {
		fmt.Fprintf(w, "    %s %s\n", colorize(colorRed, "error"), e.Message)
	}
	for _, wn := range res.Warnings {
		fmt.Fprintf(w, "    %s %s\n", colorize(colorYellow, "warning"), wn.Message)
	}
}

func writeStatus(w io.Writer, v pipeline.StatusView) {
	writeField(w, "Record", "%s", v.RecordID)
	writeField(w, "Status", "%s", colorize(statusColor(v.Status), v.Status))
	if v.CurrentPhase != "" {
		writeField(w, "Phase", "%s", v.CurrentPhase)
	}
	writeField(w, "Progress", "%d%%", v.Progress)
	if v.Error != "" {
		writeField(w, "Error", "%s", colorize(colorRed, v.Error))
	}

	if v.DetectedLanguage != "" {
		writeField(w, "Language", "%s (%s)", v.DetectedLanguage, v.LanguageConfidence)
	}
	if v.Translation != nil {
		writeField(w, "Translation", "%s via %s (%s)", v.Translation.TranslatedText, v.Translation.Provider, v.Translation.Confidence)
	}
	if v.ProcessedText != "" {
		writeField(w, "Processed", "%s", v.ProcessedText)
	}
	for _, p := range v.Phases {
		line := fmt.Sprintf("%-20s %-12s %3d%%", p.Phase, colorize(statusColor(p.Status), p.Status), p.Progress)
		if p.Error != nil {
			line += "  " + colorize(colorRed, p.Error.Kind+": "+p.Error.Message)
		}
		fmt.Fprintf(w, "    %s\n", line)
	}
}
