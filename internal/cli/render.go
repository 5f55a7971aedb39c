package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/carlosvargasvip/proxmox-scripts/internal/balancer"
	"github.com/carlosvargasvip/proxmox-scripts/internal/cluster"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	overStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	underStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	summaryStyle = lipgloss.NewStyle().Bold(true)
)

// formatUtil renders a utilization value for the mode: basis points as a
// percentage, counts as-is.
func formatUtil(util int, mode balancer.Mode) string {
	if mode == balancer.ModeCount {
		return fmt.Sprintf("%d", util)
	}
	return fmt.Sprintf("%d.%02d%%", util/100, util%100)
}

func classStyle(c balancer.Classification) lipgloss.Style {
	switch c {
	case balancer.Overloaded:
		return overStyle
	case balancer.Underloaded:
		return underStyle
	default:
		return okStyle
	}
}

func renderBalanced(snap *cluster.Snapshot, model *balancer.Model, mode balancer.Mode) string {
	return okStyle.Render(fmt.Sprintf("Cluster is balanced in %s mode (target %s, threshold %s).",
		mode, formatUtil(model.Target(mode), mode), formatUtil(model.Threshold(mode), mode)))
}

// renderPlan shows the node states and the previewed move sequence.
func renderPlan(snap *cluster.Snapshot, model *balancer.Model, mode balancer.Mode, plan []balancer.Migration) string {
	var sb strings.Builder

	sb.WriteString(titleStyle.Render(fmt.Sprintf("Rebalance plan (%s mode)", mode)))
	sb.WriteString("\n")
	sb.WriteString(dimStyle.Render(fmt.Sprintf("target %s, threshold %s",
		formatUtil(model.Target(mode), mode), formatUtil(model.Threshold(mode), mode))))
	sb.WriteString("\n\n")

	for _, name := range snap.NodeNames() {
		node := snap.Nodes[name]
		class := model.Classify(node, mode)
		line := fmt.Sprintf("  %-20s %8s  %s",
			name, formatUtil(model.Utilization(node, mode), mode), class)
		sb.WriteString(classStyle(class).Render(line))
		if node.Degraded {
			sb.WriteString(dimStyle.Render("  (degraded, excluded)"))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(plan) == 0 {
		sb.WriteString(dimStyle.Render("No migration can improve the balance without overloading a destination."))
		return sb.String()
	}

	for i, mig := range plan {
		sb.WriteString(fmt.Sprintf("  %2d. vm %-6d %s %s %s\n",
			i+1, mig.VMID, mig.Source, dimStyle.Render("->"), mig.Target))
	}
	return sb.String()
}

func renderSummary(summary *balancer.Summary) string {
	return summaryStyle.Render("Pass complete: ") + summary.String()
}

// renderStatus produces the read-only utilization table for the status
// command.
func renderStatus(snap *cluster.Snapshot, model *balancer.Model, mode balancer.Mode) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Node", "VMs", "Mem Alloc", "CPU Alloc", "Utilization", "State"})

	names := snap.NodeNames()
	sort.Strings(names)
	for _, name := range names {
		node := snap.Nodes[name]
		state := model.Classify(node, mode).String()
		if node.Degraded {
			state = "degraded"
		}
		t.AppendRow(table.Row{
			node.Name,
			node.VMCount,
			formatBytes(node.MemAlloc),
			node.CPUAlloc,
			formatUtil(model.Utilization(node, mode), mode),
			state,
		})
	}
	t.AppendFooter(table.Row{
		"cluster", snap.TotalVMs, formatBytes(snap.MemAlloc), snap.CPUAlloc,
		formatUtil(model.Target(mode), mode), fmt.Sprintf("threshold %s", formatUtil(model.Threshold(mode), mode)),
	})
	return t.Render()
}

// formatBytes converts bytes to a human-readable size.
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}
	return fmt.Sprintf("%.1f %s", float64(bytes)/float64(div), units[exp])
}
