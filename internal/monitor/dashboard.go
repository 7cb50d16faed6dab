package monitor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fyrsmithlabs/scriptorium/internal/engine"
	"github.com/fyrsmithlabs/scriptorium/internal/providers"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
)

// Model is the BubbleTea dashboard of a running library server.
type Model struct {
	serverURL  string
	interval   time.Duration
	started    time.Time
	lastUpdate time.Time
	snapshot   Snapshot
	history    History
	err        error
	quitting   bool

	capProgress progress.Model
}

// History keeps the last historySize values of each plotted series.
type History struct {
	Chunks  []float64
	Latency []float64
	// Tokens is today's token count of the current provider.
	Tokens []float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a dashboard polling serverURL every interval.
func NewModel(serverURL string, interval time.Duration) Model {
	return Model{
		serverURL: serverURL,
		interval:  interval,
		started:   time.Now(),
		capProgress: progress.New(
			progress.WithGradient("#00ff00", "#ff0000"),
			progress.WithWidth(30),
		),
		history: History{
			Chunks:  make([]float64, 0, historySize),
			Latency: make([]float64, 0, historySize),
			Tokens:  make([]float64, 0, historySize),
		},
	}
}

// Run starts the dashboard in the alternate screen and blocks until the
// user quits or ctx is cancelled.
func Run(ctx context.Context, serverURL string, interval time.Duration) error {
	p := tea.NewProgram(NewModel(serverURL, interval), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// getStatusBadge returns the overall badge for a health status.
func getStatusBadge(status string) string {
	switch status {
	case engine.StatusHealthy:
		return healthyStyle.Render("✓ HEALTHY")
	case "":
		return warningStyle.Render("⚠ UNKNOWN")
	}
	return errorStyle.Render("✗ UNHEALTHY")
}

// getCapBadge colors usage of a daily cap: under 80% is healthy.
func getCapBadge(ratio float64) string {
	if ratio < 0.8 {
		return healthyStyle.Render("[✓]")
	} else if ratio < 1 {
		return warningStyle.Render("[⚠]")
	}
	return errorStyle.Render("[✗]")
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}
	spark.Draw()

	return sparklineStyle.Render(spark.View())
}

type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init starts the refresh loop and the first fetch.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.serverURL),
	)
}

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func fetchSnapshot(serverURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		snap, err := NewClient(serverURL).Snapshot(ctx)
		if err != nil {
			return errMsg(err)
		}
		return snapshotMsg(snap)
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.serverURL)
		}

	case tickMsg:
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.serverURL),
		)

	case snapshotMsg:
		snap := Snapshot(msg)
		m.history.Chunks = appendToHistory(m.history.Chunks, float64(snap.Stats.TotalChunks))
		m.history.Latency = appendToHistory(m.history.Latency, snap.Latency.Seconds()*1000)
		var tokens float64
		if cur := currentProvider(snap.Providers); cur != nil && cur.Usage != nil {
			tokens = float64(cur.Usage.Tokens)
		}
		m.history.Tokens = appendToHistory(m.history.Tokens, tokens)

		m.snapshot = snap
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// currentProvider returns the status entry of the current provider.
func currentProvider(st providers.Status) *providers.ProviderStatus {
	for i := range st.Providers {
		if st.Providers[i].Current {
			return &st.Providers[i]
		}
	}
	return nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if m.err != nil {
		return m.renderError()
	}
	return m.renderDashboard()
}

func (m Model) renderError() string {
	header := headerStyle.Render("scriptorium Monitor")

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(errorStyle.Render("⚠ Cannot reach the library server") + "\n\n")
	b.WriteString(dimStyle.Render("URL: ") + valueStyle.Render(m.serverURL) + "\n")
	b.WriteString(dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n\n")
	b.WriteString(dimStyle.Render("Start it with: scriptorium serve") + "\n")
	b.WriteString(footerStyle.Render("[q] quit  [r] retry") + "\n")

	return containerStyle.Render(header + "\n" + b.String())
}

func (m Model) renderDashboard() string {
	var b strings.Builder
	stats := m.snapshot.Stats

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}
	uptime := int64(time.Since(m.started).Seconds())

	b.WriteString(headerStyle.Render(" scriptorium Monitor ") + "\n")
	b.WriteString(fmt.Sprintf("%s   %s   %s   %s\n",
		getStatusBadge(stats.Health.Status),
		dimStyle.Render("Watching:"),
		valueStyle.Render(FormatDuration(uptime)),
		dimStyle.Render(lastUpdateStr)))

	// Library
	b.WriteString("\n" + sectionStyle.Render("┃ Library") + "\n")
	b.WriteString(labelStyle.Render("  Documents: ") +
		valueStyle.Render(fmt.Sprintf("%d", stats.Documents)) +
		labelStyle.Render("   Chunks: ") +
		valueStyle.Render(FormatCount(int64(stats.TotalChunks))) +
		"   " + createSparkline(m.history.Chunks) + "\n")
	b.WriteString(labelStyle.Render("  Chunk types: ") + renderCounts(stats.ChunkTypes) + "\n")
	b.WriteString(labelStyle.Render("  Traditions: ") + renderCounts(stats.Traditions) + "\n")
	b.WriteString(labelStyle.Render("  Languages: ") + renderCounts(stats.Languages) + "\n")
	b.WriteString(labelStyle.Render("  API latency: ") +
		valueStyle.Render(FormatLatency(m.snapshot.Latency.Seconds())) +
		"   " + createSparkline(m.history.Latency) + "\n")

	// Language model
	llm := stats.Health.LLMClient
	b.WriteString("\n" + sectionStyle.Render("┃ Language Model") + "\n")
	llmBadge := healthyStyle.Render("[✓]")
	if llm.Status != engine.StatusHealthy {
		llmBadge = errorStyle.Render("[✗]")
	}
	b.WriteString(labelStyle.Render("  Current: ") +
		valueStyle.Render(fmt.Sprintf("%s (%s)", llm.Provider, llm.Model)) + " " + llmBadge + "\n")
	if llm.Error != "" {
		b.WriteString(dimStyle.Render("  "+llm.Error) + "\n")
	}
	st := m.snapshot.Providers
	fallback := "off"
	if st.EnableFallback {
		fallback = string(st.Fallback)
	}
	b.WriteString(labelStyle.Render("  Fallback: ") + valueStyle.Render(fallback) +
		labelStyle.Render("   Data transmission: ") + valueStyle.Render(onOff(st.AllowDataTransmission)) + "\n")
	b.WriteString(labelStyle.Render("  Tokens today: ") + createSparkline(m.history.Tokens) + "\n")

	// Providers
	b.WriteString("\n" + sectionStyle.Render("┃ Providers") + "\n")
	for _, p := range st.Providers {
		b.WriteString(m.renderProvider(p) + "\n")
	}

	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))
	b.WriteString("\n" + footer)

	return containerStyle.Render(b.String())
}

func (m Model) renderProvider(p providers.ProviderStatus) string {
	name := fmt.Sprintf("  %-10s", p.ID)
	if p.Current {
		name = valueStyle.Render(name)
	} else {
		name = labelStyle.Render(name)
	}
	avail := healthyStyle.Render("available")
	if !p.Available {
		avail = dimStyle.Render("unavailable")
	}
	line := name + " " + avail
	if !p.Metered || p.Usage == nil {
		return line
	}

	line += dimStyle.Render(fmt.Sprintf("  %s tokens  %s", FormatCount(p.Usage.Tokens), FormatCost(p.Usage.Cost)))
	if p.DailyCap > 0 {
		ratio := float64(p.Usage.Requests) / float64(p.DailyCap)
		line += "\n" + strings.Repeat(" ", 13) + m.capProgress.ViewAs(min(ratio, 1)) +
			" " + dimStyle.Render(fmt.Sprintf("%d/%d requests", p.Usage.Requests, p.DailyCap)) +
			" " + getCapBadge(ratio)
	}
	return line
}

// renderCounts renders a count map as "a 3 · b 2", largest first.
func renderCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return dimStyle.Render("none")
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = valueStyle.Render(k) + " " + dimStyle.Render(fmt.Sprintf("%d", counts[k]))
	}
	return strings.Join(parts, dimStyle.Render(" · "))
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

