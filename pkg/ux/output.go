// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package ux renders chat client output for the terminal.
package ux

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box      lipgloss.Style
	ErrorBox lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorSlate),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	ErrorBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorError).
		Padding(0, 1),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// boxWidth is the width of reply boxes in full mode.
const boxWidth = 72

// Printer writes styled output. Machine level writes tab-separated plain
// text with no styling.
type Printer struct {
	Out   io.Writer
	Err   io.Writer
	Level PersonalityLevel
}

func NewPrinter(out, errOut io.Writer, level PersonalityLevel) *Printer {
	return &Printer{Out: out, Err: errOut, Level: level}
}

func (p *Printer) machine() bool { return p.Level == PersonalityMachine }

// Success prints a success message with checkmark
func (p *Printer) Success(text string) {
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(p.Out, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Fprintf(p.Out, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints to the error stream.
func (p *Printer) Warning(text string) {
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(p.Err, "WARN: %s\n", text)
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

func (p *Printer) Error(text string) {
	switch p.Level {
	case PersonalityMachine:
		fmt.Fprintf(p.Err, "ERROR: %s\n", text)
	default:
		fmt.Fprintf(p.Err, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Reply prints an assistant answer with its cost and the balance left.
func (p *Printer) Reply(content string, cost, balance int, persisted bool) {
	if p.machine() {
		fmt.Fprintln(p.Out, content)
		fmt.Fprintf(p.Err, "cost=%d balance=%d persisted=%t\n", cost, balance, persisted)
		return
	}
	body := content
	if p.Level == PersonalityFull {
		body = Styles.Box.Width(boxWidth).Render(content)
	}
	fmt.Fprintln(p.Out, body)
	footer := fmt.Sprintf("%s %d points used, %d left", IconArrow, cost, balance)
	fmt.Fprintln(p.Out, Styles.Muted.Render(footer))
	if !persisted {
		p.Warning("the answer was not saved to history")
	}
}

// Quota prints the displayed balance. pending counts requests whose cost
// is reserved but not yet confirmed.
func (p *Printer) Quota(userID string, balance, pending int) {
	if p.machine() {
		fmt.Fprintf(p.Out, "%s\t%d\t%d\n", userID, balance, pending)
		return
	}
	line := fmt.Sprintf("%s %s", Styles.Highlight.Render(fmt.Sprintf("%d", balance)), Styles.Muted.Render("points"))
	if pending > 0 {
		line += Styles.Muted.Render(fmt.Sprintf(" (%d pending)", pending))
	}
	fmt.Fprintf(p.Out, "%s %s\n", Styles.Title.Render(userID), line)
}

// ModelRow is one catalog entry to print.
type ModelRow struct {
	ID    string
	Label string
	Cost  int
}

func (p *Printer) Models(rows []ModelRow) {
	if p.machine() {
		for _, r := range rows {
			fmt.Fprintf(p.Out, "%s\t%d\t%s\n", r.ID, r.Cost, r.Label)
		}
		return
	}
	fmt.Fprintln(p.Out, Styles.Title.Render("Models"))
	for _, r := range rows {
		fmt.Fprintf(p.Out, "  %s %-16s %s %s\n",
			IconBullet, r.ID,
			Styles.Highlight.Render(fmt.Sprintf("%3d", r.Cost)),
			Styles.Muted.Render(r.Label))
	}
}

// ConversationRow is one conversation to print.
type ConversationRow struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

func (p *Printer) Conversations(rows []ConversationRow) {
	if p.machine() {
		for _, r := range rows {
			fmt.Fprintf(p.Out, "%s\t%s\t%s\n", r.ID, r.CreatedAt.UTC().Format(time.RFC3339), r.Title)
		}
		return
	}
	if len(rows) == 0 {
		fmt.Fprintln(p.Out, Styles.Muted.Render("No conversations yet."))
		return
	}
	for _, r := range rows {
		fmt.Fprintf(p.Out, "%s %s  %s\n",
			Styles.Subtitle.Render(r.ID),
			Styles.Muted.Render(r.CreatedAt.Local().Format("2006-01-02 15:04")),
			r.Title)
	}
}

// MessageRow is one history entry to print.
type MessageRow struct {
	Role    string
	Content string
}

func (p *Printer) Messages(rows []MessageRow) {
	if p.machine() {
		for _, r := range rows {
			fmt.Fprintf(p.Out, "%s\t%s\n", r.Role, strings.ReplaceAll(r.Content, "\n", `\n`))
		}
		return
	}
	for _, r := range rows {
		label := Styles.Subtitle.Render(r.Role)
		if r.Role == "user" {
			label = Styles.Bold.Render(r.Role)
		}
		fmt.Fprintf(p.Out, "%s\n%s\n\n", label, r.Content)
	}
}
