package cli

import (
	"context"
	"os"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/carlosvargasvip/proxmox-scripts/internal/cluster"
	"github.com/carlosvargasvip/proxmox-scripts/internal/proxmox"
)

// collectDoneMsg signals that the collector finished.
type collectDoneMsg struct{}

type collectResult struct {
	snap *cluster.Snapshot
	err  error
}

type collectModel struct {
	spinner spinner.Model
	done    bool
	wait    <-chan struct{}
}

func newCollectModel(wait <-chan struct{}) collectModel {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	return collectModel{spinner: s, wait: wait}
}

func (m collectModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForResult())
}

func (m collectModel) waitForResult() tea.Cmd {
	return func() tea.Msg {
		<-m.wait
		return collectDoneMsg{}
	}
}

func (m collectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case collectDoneMsg:
		m.done = true
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	default:
		return m, nil
	}
}

func (m collectModel) View() string {
	if m.done {
		return ""
	}
	return m.spinner.View() + " Collecting cluster inventory..."
}

// collectSnapshot gathers the cluster snapshot, showing a spinner when
// attached to a terminal and staying silent when piped.
func collectSnapshot(ctx context.Context, client proxmox.ClusterClient) (*cluster.Snapshot, error) {
	collector := cluster.NewCollector(client)

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return collector.Collect(ctx)
	}

	var res collectResult
	done := make(chan struct{})
	go func() {
		res.snap, res.err = collector.Collect(ctx)
		close(done)
	}()

	_, _ = tea.NewProgram(newCollectModel(done)).Run()
	// Wait for the collector even if the spinner exited early (rendering
	// failure or an interrupt the context will surface shortly).
	<-done
	return res.snap, res.err
}
