// Copyright (c) 2026 ToeiRei
// nixdeploy - NixOS flake deployment over SSH
// This source code is licensed under the MIT license found in the LICENSE file.

// Package tui holds the interactive host picker used by `nixdeploy --pick`.
package tui

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/toeirei/nixdeploy/internal/i18n"
)

// ErrCancelled is returned when the picker is left without confirming.
var ErrCancelled = errors.New("selection cancelled")

// Item is one selectable host.
type Item struct {
	Name   string
	Detail string
}

type keyMap struct {
	Up      key.Binding
	Down    key.Binding
	Toggle  key.Binding
	All     key.Binding
	Filter  key.Binding
	Confirm key.Binding
	Quit    key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.All, k.Filter, k.Confirm, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{{k.Up, k.Down, k.Toggle, k.All}, {k.Filter, k.Confirm, k.Quit}}
}

var _ help.KeyMap = keyMap{}

var defaultKeyMap = keyMap{
	Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	Toggle:  key.NewBinding(key.WithKeys(" ", "x"), key.WithHelp("space", "toggle")),
	All:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "all")),
	Filter:  key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "filter")),
	Confirm: key.NewBinding(key.WithKeys("enter"), key.WithHelp("enter", "deploy")),
	Quit:    key.NewBinding(key.WithKeys("esc", "q", "ctrl+c"), key.WithHelp("q", "quit")),
}

type pickerModel struct {
	items     []Item
	visible   []int
	selected  map[int]bool
	cursor    int
	filter    textinput.Model
	filtering bool
	keys      keyMap
	help      help.Model
	confirmed bool
	cancelled bool
}

func newPickerModel(items []Item) pickerModel {
	ti := textinput.New()
	ti.Prompt = "/ "
	ti.PromptStyle = filterPromptStyle
	m := pickerModel{
		items:    items,
		selected: make(map[int]bool),
		filter:   ti,
		keys:     defaultKeyMap,
		help:     help.New(),
	}
	m.applyFilter()
	return m
}

func (m *pickerModel) applyFilter() {
	q := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	m.visible = make([]int, 0, len(m.items))
	for i, it := range m.items {
		if q == "" || strings.Contains(strings.ToLower(it.Name), q) {
			m.visible = append(m.visible, i)
		}
	}
	if m.cursor >= len(m.visible) {
		m.cursor = max(0, len(m.visible)-1)
	}
}

func (m pickerModel) Init() tea.Cmd { return nil }

func (m pickerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}

	if m.filtering {
		switch keyMsg.Type {
		case tea.KeyEnter, tea.KeyEsc:
			m.filtering = false
			m.filter.Blur()
			return m, nil
		}
		var cmd tea.Cmd
		m.filter, cmd = m.filter.Update(msg)
		m.applyFilter()
		return m, cmd
	}

	switch {
	case key.Matches(keyMsg, m.keys.Quit):
		m.cancelled = true
		return m, tea.Quit
	case key.Matches(keyMsg, m.keys.Confirm):
		m.confirmed = true
		return m, tea.Quit
	case key.Matches(keyMsg, m.keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(keyMsg, m.keys.Down):
		if m.cursor < len(m.visible)-1 {
			m.cursor++
		}
	case key.Matches(keyMsg, m.keys.Toggle):
		if len(m.visible) > 0 {
			i := m.visible[m.cursor]
			m.selected[i] = !m.selected[i]
		}
	case key.Matches(keyMsg, m.keys.All):
		all := true
		for _, i := range m.visible {
			all = all && m.selected[i]
		}
		for _, i := range m.visible {
			m.selected[i] = !all
		}
	case key.Matches(keyMsg, m.keys.Filter):
		m.filtering = true
		return m, m.filter.Focus()
	}
	return m, nil
}

func (m pickerModel) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(i18n.T("picker.title")))
	b.WriteString("\n")
	if m.filtering || m.filter.Value() != "" {
		b.WriteString(m.filter.View())
		b.WriteString("\n")
	}
	for pos, i := range m.visible {
		it := m.items[i]
		box := "[ ]"
		if m.selected[i] {
			box = checkedStyle.Render("[x]")
		}
		line := fmt.Sprintf("%s %s %s", box, it.Name, detailStyle.Render(it.Detail))
		if pos == m.cursor {
			b.WriteString(cursorItemStyle.Render("> " + line))
		} else {
			b.WriteString(itemStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(m.help.View(m.keys))
	return docStyle.Render(b.String())
}

// Selected returns the chosen names in item order. When nothing was ticked
// the host under the cursor is used.
func (m pickerModel) Selected() []string {
	var out []string
	for i, it := range m.items {
		if m.selected[i] {
			out = append(out, it.Name)
		}
	}
	if len(out) == 0 && len(m.visible) > 0 {
		out = append(out, m.items[m.visible[m.cursor]].Name)
	}
	return out
}

// Pick shows the picker and returns the chosen host names.
func Pick(items []Item, opts ...tea.ProgramOption) ([]string, error) {
	if len(items) == 0 {
		return nil, nil
	}
	final, err := tea.NewProgram(newPickerModel(items), opts...).Run()
	if err != nil {
		return nil, err
	}
	m := final.(pickerModel)
	if m.cancelled || !m.confirmed {
		return nil, ErrCancelled
	}
	return m.Selected(), nil
}
