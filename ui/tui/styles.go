// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

package tui

import "github.com/charmbracelet/lipgloss"

const (
	colorSubtle    = lipgloss.Color("240") // Muted gray
	colorHighlight = lipgloss.Color("81")  // Teal
	colorSuccess   = lipgloss.Color("40")  // Green
)

var (
	titleStyle        = lipgloss.NewStyle().Foreground(colorHighlight).Bold(true).MarginBottom(1)
	itemStyle         = lipgloss.NewStyle().PaddingLeft(2)
	cursorItemStyle   = lipgloss.NewStyle().PaddingLeft(2).Foreground(colorHighlight)
	checkedStyle      = lipgloss.NewStyle().Foreground(colorSuccess)
	detailStyle       = lipgloss.NewStyle().Foreground(colorSubtle)
	filterPromptStyle = lipgloss.NewStyle().Foreground(colorHighlight)
	docStyle          = lipgloss.NewStyle().Margin(1, 2)
)
