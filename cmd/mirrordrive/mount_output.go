package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"mirrordrive/internal/ipc"
)

func buildEntryListRows(entries []ipc.MountEntry) [][]string {
	rows := make([][]string, 0, len(entries))
	for _, entry := range entries {
		rows = append(rows, []string{
			strconv.Itoa(entry.Index),
			displayTarget(entry.TargetID),
			entry.SourceSpec,
			entryStatusText(entry),
			modeText(entry.ReadOnly),
			yesNo(entry.AutoAttach),
		})
	}
	return rows
}

func printEntryDetail(out io.Writer, entry ipc.MountEntry, colorize bool) {
	fmt.Fprintln(out, renderStatusLine("Status", entryStatusKind(entry.Status), entryStatusText(entry), colorize))
	fmt.Fprintln(out, renderStatusLine("Drive", statusInfo, displayTarget(entry.TargetID), colorize))
	fmt.Fprintln(out, renderStatusLine("Source", statusInfo, entry.SourceSpec, colorize))
	if entry.SourcePath != entry.SourceSpec {
		fmt.Fprintln(out, renderStatusLine("Expanded", statusInfo, entry.SourcePath, colorize))
	}
	fmt.Fprintln(out, renderStatusLine("Mode", statusInfo, modeText(entry.ReadOnly), colorize))
	fmt.Fprintln(out, renderStatusLine("Auto-attach", statusInfo, yesNo(entry.AutoAttach), colorize))
	if entry.Status == "Unmounted" || entry.Status == "Error" {
		fmt.Fprintln(out, renderStatusLine("Free letters", statusInfo, freeLetters(entry.Available), colorize))
	}
	fmt.Fprintln(out, renderStatusLine("ID", statusInfo, entry.ID, colorize))
}

func describeOperation(op string, result ipc.OperationResult) string {
	entry := result.Entry
	target := displayTarget(entry.TargetID)
	if result.Backgrounded {
		return fmt.Sprintf("%s of %s continues in the background (check `mirrordrive list`)", operationNoun(op), target)
	}
	return fmt.Sprintf("%s: %s (%dms)", target, entryStatusText(entry), result.ElapsedMillis)
}

func operationNoun(op string) string {
	switch op {
	case "attach":
		return "Mounting"
	case "detach":
		return "Unmounting"
	default:
		return op
	}
}

func entryStatusText(entry ipc.MountEntry) string {
	if entry.Status == "Error" && strings.TrimSpace(entry.ErrorMessage) != "" {
		return "Error: " + entry.ErrorMessage
	}
	if entry.Busy && entry.Status != "Mounting" {
		return entry.Status + " (busy)"
	}
	return entry.Status
}

func displayTarget(target string) string {
	if strings.TrimSpace(target) == "" {
		return "-"
	}
	return target
}

func modeText(readOnly bool) string {
	if readOnly {
		return "read-only"
	}
	return "read-write"
}

func freeLetters(available []string) string {
	if len(available) == 0 {
		return "none"
	}
	letters := make([]string, 0, len(available))
	for _, id := range available {
		letters = append(letters, strings.TrimSuffix(id, `:\`))
	}
	return strings.Join(letters, " ")
}
