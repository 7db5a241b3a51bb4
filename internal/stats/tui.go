package stats

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	labelStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#569CD6"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#DCDCAA"))

	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#F44747"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4FC1FF"))
)

// sampleMsg carries one reporter Sample into the bubbletea program.
type sampleMsg Sample

type tuiModel struct {
	last     Sample
	interval int
}

func (m tuiModel) Init() tea.Cmd { return nil }

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	case sampleMsg:
		m.last = Sample(msg)
		m.interval++
	}
	return m, nil
}

func (m tuiModel) View() string {
	drops := valueStyle.Render(fmt.Sprintf("%d", m.last.TxDrop))
	if m.last.TxDrop > 0 {
		drops = warnStyle.Render(fmt.Sprintf("%d", m.last.TxDrop))
	}
	kernel := ""
	k := m.last.Kernel
	if k != (KernelCounters{}) {
		kernel = fmt.Sprintf(
			"\n%s %s  %s %s  %s %s  %s %s\n",
			labelStyle.Render("kernel pass:"), valueStyle.Render(fmt.Sprintf("%d", k.Passed)),
			labelStyle.Render("drop:"), valueStyle.Render(fmt.Sprintf("%d", k.Dropped)),
			labelStyle.Render("redirect:"), valueStyle.Render(fmt.Sprintf("%d", k.Redirected)),
			labelStyle.Render("aborted:"), valueStyle.Render(fmt.Sprintf("%d", k.Aborted)),
		)
	}
	return fmt.Sprintf(
		"%s\n\n%s %s\n%s %s\n%s %s\n%s %s\n%s %s\n%s\n%s\n",
		titleStyle.Render("afxdp-bounce"),
		labelStyle.Render("pps:"), valueStyle.Render(fmt.Sprintf("%.0f", m.last.PPS)),
		labelStyle.Render("mbps:"), valueStyle.Render(fmt.Sprintf("%.2f", m.last.Mbps)),
		labelStyle.Render("tx_drop:"), drops,
		labelStyle.Render("fq_stalls:"), valueStyle.Render(fmt.Sprintf("%d", m.last.FQStalls)),
		labelStyle.Render("outstanding_tx:"), valueStyle.Render(fmt.Sprintf("%d", m.last.OutstandingTx)),
		kernel,
		"press q to quit (the engine keeps running until its own shutdown condition)",
	)
}

// RunTUI starts a bubbletea program rendering samples from this
// reporter and blocks until the user quits the view. It drives its
// own sampling ticker via Run for the duration of the view, and does
// not stop the engine — the view exits independently of Engine.Run.
func (r *Reporter) RunTUI(ctx context.Context) error {
	p := tea.NewProgram(tuiModel{})
	r.WithRender(func(s Sample) {
		p.Send(sampleMsg(s))
	})

	sampleCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go r.Run(sampleCtx)

	_, err := p.Run()
	return err
}
