package cli

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	promptStyle = lipgloss.NewStyle().Bold(true)
	hintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// confirmModel is a minimal yes/no prompt.
type confirmModel struct {
	question string
	answered bool
	accepted bool
}

func (m confirmModel) Init() tea.Cmd { return nil }

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch key.String() {
	case "y", "Y":
		m.answered = true
		m.accepted = true
		return m, tea.Quit
	case "n", "N", "enter", "q", "esc", "ctrl+c":
		m.answered = true
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.answered {
		return ""
	}
	return promptStyle.Render(m.question) + " " + hintStyle.Render("[y/N]") + " "
}

// confirm asks the operator to approve the pass. Non-interactive runs must
// pass --yes explicitly; silently migrating VMs from a cron job is how
// clusters get surprised.
func confirm(question string) (bool, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("standard input is not a terminal; re-run with --yes to skip confirmation")
	}

	p := tea.NewProgram(confirmModel{question: question})
	final, err := p.Run()
	if err != nil {
		return false, fmt.Errorf("confirmation prompt failed: %w", err)
	}
	m := final.(confirmModel)
	return m.accepted, nil
}
