package main

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	hintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// promptModel collects one line of input with a styled title and hint.
type promptModel struct {
	input   textinput.Model
	title   string
	done    bool
	aborted bool
}

func newPromptModel(title, placeholder string) promptModel {
	ti := textinput.New()
	ti.Placeholder = placeholder
	ti.Focus()
	ti.CharLimit = 256
	return promptModel{input: ti, title: title}
}

func (m promptModel) Init() tea.Cmd { return textinput.Blink }

func (m promptModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.Type {
		case tea.KeyEnter:
			m.done = true
			return m, tea.Quit
		case tea.KeyCtrlC, tea.KeyEsc:
			m.aborted = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m promptModel) View() string {
	if m.done || m.aborted {
		return ""
	}
	return titleStyle.Render(m.title) + "\n" + m.input.View() + "\n" + hintStyle.Render("enter to confirm, esc to cancel") + "\n"
}

// promptLine runs the wizard for one line of input. ok is false when the
// user cancelled.
func promptLine(title, placeholder string) (value string, ok bool, err error) {
	final, err := tea.NewProgram(newPromptModel(title, placeholder)).Run()
	if err != nil {
		return "", false, err
	}
	m := final.(promptModel)
	if m.aborted {
		return "", false, nil
	}
	return strings.TrimSpace(m.input.Value()), true, nil
}

// confirm asks a yes/no question, defaulting to no.
func confirm(title string) (bool, error) {
	value, ok, err := promptLine(title+" [y/N]", "n")
	if err != nil || !ok {
		return false, err
	}
	switch strings.ToLower(value) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
