package tui

import (
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/cstahmer1/spotagent/internal/chain"
	"github.com/cstahmer1/spotagent/internal/config"
	"github.com/cstahmer1/spotagent/internal/ledger"
	"github.com/cstahmer1/spotagent/internal/ranker"
	"github.com/cstahmer1/spotagent/internal/risk"
	"github.com/cstahmer1/spotagent/internal/rotation"
)

// --- CROSSTERM-STYLE THEME ---
var (
	ColorBg           = lipgloss.Color("#0f1c2e")
	ColorBorder       = lipgloss.Color("#2e7de9")
	ColorText         = lipgloss.Color("#a9b1d6")
	ColorAccentGreen  = lipgloss.Color("#41a6b5")
	ColorAccentPurple = lipgloss.Color("#bd93f9")
	ColorActive       = lipgloss.Color("#7aa2f7")

	ColorSuccess = lipgloss.Color("#73daca")
	ColorWarning = lipgloss.Color("#ff9e64")
	ColorError   = lipgloss.Color("#f7768e")
	ColorInfo    = lipgloss.Color("#7dcfff")
	ColorProfit  = lipgloss.Color("#9ece6a")
	ColorLoss    = lipgloss.Color("#f7768e")

	StylePage = lipgloss.NewStyle().
			Background(ColorBg).
			Foreground(ColorText)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorActive).
			Padding(0, 0)

	StyleKey = lipgloss.NewStyle().
			Foreground(ColorAccentPurple).
			Bold(true)

	StyleProfit = lipgloss.NewStyle().Foreground(ColorProfit)
	StyleLoss   = lipgloss.NewStyle().Foreground(ColorLoss)

	ColorGray        = ColorText
	StyleTableHeader = lipgloss.NewStyle().Foreground(ColorActive).Bold(true)
	StyleFooter      = lipgloss.NewStyle().Foreground(ColorText)
	StyleModal       = lipgloss.NewStyle().
				Border(lipgloss.NormalBorder()).
				BorderForeground(ColorBorder).
				Padding(1, 2)
	StyleHelpText = lipgloss.NewStyle().Foreground(ColorAccentPurple).Italic(true)
)

func RenderHotKey(k, d string) string {
	return StyleKey.Render("["+k+"]") + d
}

// theme is a named color scheme swapped in by CycleTheme.
type theme struct {
	Name         string
	Background   lipgloss.Color
	Border       lipgloss.Color
	Text         lipgloss.Color
	Active       lipgloss.Color
	AccentGreen  lipgloss.Color
	AccentPurple lipgloss.Color
	Profit       lipgloss.Color
	Loss         lipgloss.Color
}

var themes = []theme{
	// 0: Tokyo Night (Crossterm Demo style)
	{
		Name:         "Tokyo Night",
		Background:   lipgloss.Color("#1a1b26"),
		Border:       lipgloss.Color("#7aa2f7"),
		Text:         lipgloss.Color("#c0caf5"),
		Active:       lipgloss.Color("#7aa2f7"),
		AccentGreen:  lipgloss.Color("#9ece6a"),
		AccentPurple: lipgloss.Color("#bb9af7"),
		Profit:       lipgloss.Color("#9ece6a"),
		Loss:         lipgloss.Color("#f7768e"),
	},
	// 1: Light
	{
		Name:         "Light",
		Background:   lipgloss.Color("#ffffff"),
		Border:       lipgloss.Color("#0969da"),
		Text:         lipgloss.Color("#24292f"),
		Active:       lipgloss.Color("#0550ae"),
		AccentGreen:  lipgloss.Color("#1a7f37"),
		AccentPurple: lipgloss.Color("#8250df"),
		Profit:       lipgloss.Color("#1a7f37"),
		Loss:         lipgloss.Color("#cf222e"),
	},
	// 2: Cyberpunk/Neon
	{
		Name:         "Cyberpunk",
		Background:   lipgloss.Color("#0a0a0a"),
		Border:       lipgloss.Color("#00ffff"),
		Text:         lipgloss.Color("#ffffff"),
		Active:       lipgloss.Color("#ff00ff"),
		AccentGreen:  lipgloss.Color("#39ff14"),
		AccentPurple: lipgloss.Color("#bf00ff"),
		Profit:       lipgloss.Color("#39ff14"),
		Loss:         lipgloss.Color("#ff0000"),
	},
}

var currentThemeIndex = 0

// CycleTheme switches to the next theme and re-derives the package's color
// and style vars from it.
func CycleTheme() {
	currentThemeIndex = (currentThemeIndex + 1) % len(themes)
	applyTheme(themes[currentThemeIndex])
}

func applyTheme(t theme) {
	ColorBg = t.Background
	ColorBorder = t.Border
	ColorText = t.Text
	ColorActive = t.Active
	ColorAccentGreen = t.AccentGreen
	ColorAccentPurple = t.AccentPurple
	ColorProfit = t.Profit
	ColorLoss = t.Loss

	StylePage = lipgloss.NewStyle().Background(ColorBg).Foreground(ColorText)
	StyleHeader = lipgloss.NewStyle().Bold(true).Foreground(ColorActive)
	StyleKey = lipgloss.NewStyle().Foreground(ColorAccentPurple).Bold(true)
	StyleProfit = lipgloss.NewStyle().Foreground(ColorProfit)
	StyleLoss = lipgloss.NewStyle().Foreground(ColorLoss)
	StyleTableHeader = lipgloss.NewStyle().Foreground(ColorActive).Bold(true)
	StyleFooter = lipgloss.NewStyle().Foreground(ColorText)
	StyleModal = lipgloss.NewStyle().Border(lipgloss.NormalBorder()).BorderForeground(ColorBorder).Padding(1, 2)
	StyleHelpText = lipgloss.NewStyle().Foreground(ColorAccentPurple).Italic(true)
	ColorGray = ColorText
}

// --- ARCHITECTURE DEFINITIONS ---

type Screen string

const (
	ScreenDashboard Screen = "dashboard"
	ScreenConfig    Screen = "config"
	ScreenLogs      Screen = "logs"
	ScreenTrades    Screen = "trades"
)

// Global Keys
type KeyMap struct {
	Config, Pause, Exit, Logs, Trades, Quit key.Binding
	Up, Down, Tab, Enter, Escape             key.Binding
	Profile, Theme                           key.Binding
}

var keys = KeyMap{
	Config:  key.NewBinding(key.WithKeys("c")),
	Pause:   key.NewBinding(key.WithKeys("p")),
	Exit:    key.NewBinding(key.WithKeys("x")),
	Logs:    key.NewBinding(key.WithKeys("l")),
	Trades:  key.NewBinding(key.WithKeys("r")),
	Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c")),
	Up:      key.NewBinding(key.WithKeys("up", "k")),
	Down:    key.NewBinding(key.WithKeys("down", "j")),
	Tab:     key.NewBinding(key.WithKeys("tab")),
	Enter:   key.NewBinding(key.WithKeys("enter")),
	Escape:  key.NewBinding(key.WithKeys("esc")),
	Profile: key.NewBinding(key.WithKeys("f")),
	Theme:   key.NewBinding(key.WithKeys(".")),
}

// Model is the bubbletea root model for the operator dashboard. State is
// pushed in via the SendX helpers from the orchestrator's tick loop rather
// than pulled, so View never blocks on shared-memory reads.
type Model struct {
	Config     *config.Manager
	EquityUSD  float64
	RPCLatency time.Duration
	Running    bool
	StartTime  time.Time

	CurrentScreen Screen
	Width, Height int

	Header      HeaderComponent
	Footer      FooterComponent
	Ranked      RankedPane
	Positions   PositionsPane
	ConfigModal ConfigModal
	LogsView    LogsView
	RotationLog RotationLogView

	OnTogglePause func()
	OnForceExit   func(mint chain.Mint)
	OnCycleProfile func()

	Anim animationState
}

// animationState drives the continuous border-pulse effect; it is the only
// piece of the original four-animation system (startup/button/transition/
// continuous) the dashboard actually renders.
type animationState struct {
	globalFrame int
}

const animationFPS = 30

type animationTickMsg time.Time

func animationTickCmd() tea.Cmd {
	return tea.Tick(time.Second/animationFPS, func(t time.Time) tea.Msg { return animationTickMsg(t) })
}

func (a *animationState) tick() {
	a.globalFrame++
}

// borderColorIndex cycles through pulseColors, changing every 1.5s.
func (a *animationState) borderColorIndex(numColors int) int {
	const period = animationFPS * 3 / 2
	return (a.globalFrame / period) % numColors
}

func NewModel(cfg *config.Manager) Model {
	return Model{
		Config:        cfg,
		Running:       true,
		StartTime:     time.Now(),
		Header:        HeaderComponent{},
		Footer:        FooterComponent{},
		Ranked:        NewRankedPane(),
		Positions:     NewPositionsPane(),
		LogsView:      NewLogsView(),
		RotationLog:   NewRotationLogView(),
		ConfigModal:   NewConfigModal(cfg),
		CurrentScreen: ScreenDashboard,
	}
}

func (m *Model) SetCallbacks(pause func(), forceExit func(chain.Mint), cycleProfile func()) {
	m.OnTogglePause = pause
	m.OnForceExit = forceExit
	m.OnCycleProfile = cycleProfile
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tea.SetWindowTitle("spotagent"),
		tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return TickMsg(t) }),
		animationTickCmd(),
	)
}

// Messages. SendX functions below are how the orchestrator pushes state
// into a running tea.Program without the render loop touching shared state.
type TickMsg time.Time
type PositionsMsg struct{ Positions []*ledger.PositionTracking }
type RankedMsg struct{ Items []ranker.RankedItem }
type RotationMsg struct{ Decision rotation.Decision }
type EquityMsg struct{ USD float64 }
type LatencyMsg struct{ Ms int64 }
type LogMsg struct{ Lines []string }
type CircuitMsg struct{ State risk.State }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleGlobalInput(msg)
	case tea.WindowSizeMsg:
		m.Width, m.Height = msg.Width, msg.Height
	case TickMsg:
		m.Header.CurrentTime = time.Time(msg)
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		m.Header.MemUsage = fmt.Sprintf("%dMB", mem.Alloc/1024/1024)
		return m, tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg { return TickMsg(t) })
	case animationTickMsg:
		m.Anim.tick()
		return m, animationTickCmd()
	case EquityMsg:
		m.EquityUSD = msg.USD
		m.Header.EquityUSD = msg.USD
	case LatencyMsg:
		m.RPCLatency = time.Duration(msg.Ms) * time.Millisecond
		m.Header.RPCLatency = m.RPCLatency
		m.Header.LatencyHistory = append(m.Header.LatencyHistory, int(msg.Ms))
		if len(m.Header.LatencyHistory) > 60 {
			m.Header.LatencyHistory = m.Header.LatencyHistory[1:]
		}
	case RankedMsg:
		m.Ranked.Update(msg.Items)
	case PositionsMsg:
		m.Positions.Update(msg.Positions)
	case RotationMsg:
		m.RotationLog.Add(msg.Decision)
		m.Header.RotationCount++
	case CircuitMsg:
		m.Header.CircuitTripped, m.Header.CircuitPauseReason = msg.State.Paused, string(msg.State.PauseReason)
		m.Header.ManualPaused = m.Config != nil && m.Config.Get().Circuit.ManualPause
	case LogMsg:
		m.LogsView.Add(msg.Lines)
	}

	return m, nil
}

func (m Model) handleGlobalInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.CurrentScreen == ScreenConfig {
		return m.ConfigModal.Update(msg, &m)
	}

	switch {
	case key.Matches(msg, keys.Quit):
		return m, tea.Quit
	case key.Matches(msg, keys.Tab):
		m.CurrentScreen = ScreenDashboard
	}

	switch m.CurrentScreen {
	case ScreenDashboard:
		switch {
		case key.Matches(msg, keys.Config):
			m.CurrentScreen = ScreenConfig
		case key.Matches(msg, keys.Pause):
			m.Running = !m.Running
			if m.OnTogglePause != nil {
				m.OnTogglePause()
			}
		case key.Matches(msg, keys.Exit):
			m.forceExitSelected()
		case key.Matches(msg, keys.Logs):
			m.CurrentScreen = ScreenLogs
		case key.Matches(msg, keys.Trades):
			m.CurrentScreen = ScreenTrades
		case key.Matches(msg, keys.Profile):
			if m.OnCycleProfile != nil {
				m.OnCycleProfile()
			}
		case key.Matches(msg, keys.Theme):
			CycleTheme()
		case key.Matches(msg, keys.Up):
			if m.Positions.Offset > 0 {
				m.Positions.Offset--
			}
		case key.Matches(msg, keys.Down):
			if m.Positions.Offset < len(m.Positions.Positions)-1 {
				m.Positions.Offset++
			}
		case key.Matches(msg, keys.Escape):
			m.CurrentScreen = ScreenDashboard
		}
	case ScreenLogs:
		return m.LogsView.Update(msg, m)
	case ScreenTrades:
		return m.RotationLog.Update(msg, m)
	}

	return m, nil
}

// forceExitSelected requests a manual close of the position under cursor.
func (m Model) forceExitSelected() {
	if m.OnForceExit == nil {
		return
	}
	if m.Positions.Offset < 0 || m.Positions.Offset >= len(m.Positions.Positions) {
		return
	}
	m.OnForceExit(m.Positions.Positions[m.Positions.Offset].Mint)
}

// --- VIEW RENDERING ---

func (m Model) View() string {
	if m.Width == 0 {
		return "initializing..."
	}

	switch m.CurrentScreen {
	case ScreenLogs:
		return StylePage.Render(m.LogsView.Render(m.Width, m.Height))
	case ScreenTrades:
		return StylePage.Render(m.RotationLog.Render(m.Width, m.Height))
	}

	header := m.Header.Render(m.Width)
	footer := m.Footer.Render(m.Width)

	bodyHeight := m.Height - lipgloss.Height(header) - lipgloss.Height(footer)
	if bodyHeight < 3 {
		bodyHeight = 3
	}

	leftW := m.Width / 2
	rightW := m.Width - leftW

	pulseColors := []lipgloss.Color{ColorBorder, ColorActive, ColorAccentPurple}
	liveBorder := pulseColors[m.Anim.borderColorIndex(len(pulseColors))]

	left := renderBoxColor("Ranking", m.Ranked.Render(leftW, bodyHeight), leftW, bodyHeight, liveBorder)
	right := renderBoxColor("Positions", m.Positions.Render(rightW, bodyHeight), rightW, bodyHeight, liveBorder)

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)
	view := lipgloss.JoinVertical(lipgloss.Left, header, body, footer)

	if m.CurrentScreen == ScreenConfig {
		return StylePage.Render(m.overlay(view, m.ConfigModal.Render(m.Width, m.Height)))
	}

	return StylePage.Render(view)
}

func (m Model) overlay(base, modal string) string {
	bLines := strings.Split(base, "\n")
	mLines := strings.Split(modal, "\n")

	y := (len(bLines) - len(mLines)) / 2
	if y < 0 {
		y = 0
	}

	for i, line := range mLines {
		if y+i < len(bLines) {
			bLines[y+i] = line
		}
	}
	return strings.Join(bLines, "\n")
}

// --- HEADER / FOOTER ---

type HeaderComponent struct {
	CurrentTime         time.Time
	MemUsage            string
	EquityUSD           float64
	RPCLatency          time.Duration
	LatencyHistory      []int
	RotationCount       int
	CircuitTripped      bool
	CircuitPauseReason  string
	ManualPaused        bool
}

const Version = "v1.0"

func (h HeaderComponent) Render(w int) string {
	status := StyleProfit.Render("● RUNNING")
	if h.CircuitTripped {
		status = StyleLoss.Render("● CIRCUIT PAUSED: " + h.CircuitPauseReason)
	} else if h.ManualPaused {
		status = lipgloss.NewStyle().Foreground(ColorWarning).Render("● MANUAL PAUSE")
	}

	left := fmt.Sprintf("spotagent %s  %s", Version, status)
	right := fmt.Sprintf("equity $%.2f  latency %s %s  rotations %d  mem %s  %s",
		h.EquityUSD, h.RPCLatency.Round(time.Millisecond), renderSparkline(h.LatencyHistory, 12),
		h.RotationCount, h.MemUsage, h.CurrentTime.Format("15:04:05"))

	gap := w - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 1 {
		gap = 1
	}
	line := left + strings.Repeat(" ", gap) + right
	return StyleHeader.Width(w).Render(line)
}

type FooterComponent struct{}

func (f FooterComponent) Render(w int) string {
	line := strings.Join([]string{
		RenderHotKey("c", "config"),
		RenderHotKey("p", "pause"),
		RenderHotKey("x", "force-exit"),
		RenderHotKey("f", "cycle risk profile"),
		RenderHotKey(".", "theme"),
		RenderHotKey("l", "logs"),
		RenderHotKey("r", "rotation log"),
		RenderHotKey("q", "quit"),
	}, "  ")
	return StyleFooter.Width(w).Render(line)
}

// --- RANKED PANE (replaces the teacher's signal feed) ---

type RankedPane struct {
	Items  []ranker.RankedItem
	Offset int
}

func NewRankedPane() RankedPane { return RankedPane{} }

func (rp *RankedPane) Update(items []ranker.RankedItem) {
	sort.Slice(items, func(i, j int) bool { return items[i].Rank > items[j].Rank })
	rp.Items = items
}

func (rp RankedPane) Render(w, h int) string {
	var b strings.Builder
	b.WriteString(StyleTableHeader.Render(fmt.Sprintf("%-10s %7s %7s %6s %s", "MINT", "RANK", "PNL%", "SLOT", "FLAGS")))
	b.WriteString("\n")

	rows := rp.Items
	if len(rows) > h-2 {
		rows = rows[:h-2]
	}
	for _, it := range rows {
		pnlStyle := StyleProfit
		if it.PnLPct < 0 {
			pnlStyle = StyleLoss
		}
		flags := flagSummary(it.Flags)
		if it.Quarantined {
			flags = "quarantined " + flags
		}
		b.WriteString(fmt.Sprintf("%-10s %7.2f %s %6s %s\n",
			truncate(string(it.Mint), 10), it.Rank,
			pnlStyle.Render(fmt.Sprintf("%6.2f%%", it.PnLPct*100)),
			it.SlotType, truncate(flags, w-40)))
	}
	return b.String()
}

func flagSummary(f ranker.Flags) string {
	var parts []string
	if f.TrailingStopTriggered {
		parts = append(parts, "trail")
	}
	if f.IsStale {
		parts = append(parts, "stale")
	}
	if f.IsStaleExit {
		parts = append(parts, "stale-exit")
	}
	if f.ScoutStopLossTriggered {
		parts = append(parts, "stop-loss")
	}
	if f.CoreLossExitTriggered {
		parts = append(parts, "core-loss")
	}
	if f.ScoutGraceExpired {
		parts = append(parts, "grace-expired")
	}
	return strings.Join(parts, ",")
}

// --- POSITIONS PANE ---

type PositionsPane struct {
	Positions []*ledger.PositionTracking
	Offset    int
}

func NewPositionsPane() PositionsPane { return PositionsPane{} }

func (pp *PositionsPane) Update(pos []*ledger.PositionTracking) {
	pp.Positions = pos
	if pp.Offset >= len(pos) {
		pp.Offset = maxi(0, len(pos)-1)
	}
}

func (pp PositionsPane) Render(w, h int) string {
	var b strings.Builder
	b.WriteString(StyleTableHeader.Render(fmt.Sprintf("%-10s %6s %10s %10s %6s", "MINT", "SLOT", "ENTRY", "LAST", "PNL%")))
	b.WriteString("\n")

	rows := pp.Positions
	if len(rows) > h-2 {
		rows = rows[:h-2]
	}
	for i, p := range rows {
		entry, _ := p.EntryPriceUSD.Float64()
		last, _ := p.LastPriceUSD.Float64()
		pnlPct := 0.0
		if entry != 0 {
			pnlPct = (last - entry) / entry * 100
		}
		pnlStyle := StyleProfit
		if pnlPct < 0 {
			pnlStyle = StyleLoss
		}

		cursor := "  "
		if i == pp.Offset {
			cursor = "> "
		}
		b.WriteString(fmt.Sprintf("%s%-10s %6s %10.6f %10.6f %s\n",
			cursor, truncate(string(p.Mint), 10), p.SlotType, entry, last,
			pnlStyle.Render(fmt.Sprintf("%5.2f%%", pnlPct))))
	}
	return b.String()
}

// --- CONFIG MODAL (read-only summary + manual-pause toggle) ---

type ConfigModal struct {
	Cfg      *config.Manager
	Selected int
}

func NewConfigModal(cfg *config.Manager) ConfigModal { return ConfigModal{Cfg: cfg} }

func (cm ConfigModal) Update(msg tea.KeyMsg, m *Model) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, keys.Escape), key.Matches(msg, keys.Config):
		m.CurrentScreen = ScreenDashboard
	case key.Matches(msg, keys.Pause):
		m.Running = !m.Running
		if m.OnTogglePause != nil {
			m.OnTogglePause()
		}
	case key.Matches(msg, keys.Profile):
		if m.OnCycleProfile != nil {
			m.OnCycleProfile()
		}
	}
	return *m, nil
}

func (cm ConfigModal) Render(w, h int) string {
	cfg := cm.Cfg.Get()
	lines := []string{
		StyleHeader.Render("configuration"),
		"",
		fmt.Sprintf("execution mode       %s", cfg.Execution.Mode),
		fmt.Sprintf("active risk profile  %s", cfg.ActiveRiskProfile),
		fmt.Sprintf("max slippage bps     %d", cfg.Execution.MaxSlippageBps),
		fmt.Sprintf("manual pause         %v", cfg.Circuit.ManualPause),
		fmt.Sprintf("core / scout slots   %d / %d", cfg.Slots.CoreSlots, cfg.Slots.ScoutSlots),
		fmt.Sprintf("max daily drawdown   %.1f%%", cfg.Risk.MaxDailyDrawdownPct*100),
		fmt.Sprintf("max turnover/day     %.1f%%", cfg.Risk.MaxTurnoverPctPerDay*100),
		fmt.Sprintf("trailing stop base   %.1f%%", cfg.Exit.TrailingStopBasePct*100),
		"",
		RenderHotKey("f", "cycle profile") + "  " + RenderHotKey("p", "toggle pause") + "  " + RenderHotKey("esc", "close"),
	}
	return StyleModal.Width(minInt(w-10, 60)).Render(strings.Join(lines, "\n"))
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// --- LOGS VIEW ---

type LogsView struct{ Lines []string }

func NewLogsView() LogsView { return LogsView{} }

func (lv *LogsView) Add(l []string) {
	lv.Lines = append(lv.Lines, l...)
	if len(lv.Lines) > 500 {
		lv.Lines = lv.Lines[len(lv.Lines)-500:]
	}
}

func (lv LogsView) Update(msg tea.KeyMsg, m Model) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Escape) || key.Matches(msg, keys.Logs) {
		m.CurrentScreen = ScreenDashboard
	}
	if key.Matches(msg, keys.Quit) {
		return m, tea.Quit
	}
	return m, nil
}

func (lv LogsView) Render(w, h int) string {
	lines := lv.Lines
	if len(lines) > h-2 {
		lines = lines[len(lines)-(h-2):]
	}
	return renderBox("Logs", strings.Join(lines, "\n"), w, h)
}

// --- ROTATION LOG VIEW (replaces the teacher's trade-history export view) ---

type RotationLogView struct{ Entries []rotation.Decision }

func NewRotationLogView() RotationLogView { return RotationLogView{} }

func (rv *RotationLogView) Add(d rotation.Decision) {
	rv.Entries = append(rv.Entries, d)
	if len(rv.Entries) > 500 {
		rv.Entries = rv.Entries[len(rv.Entries)-500:]
	}
}

func (rv RotationLogView) Update(msg tea.KeyMsg, m Model) (tea.Model, tea.Cmd) {
	if key.Matches(msg, keys.Escape) || key.Matches(msg, keys.Trades) {
		m.CurrentScreen = ScreenDashboard
	}
	if key.Matches(msg, keys.Quit) {
		return m, tea.Quit
	}
	return m, nil
}

func (rv RotationLogView) Render(w, h int) string {
	var b strings.Builder
	entries := rv.Entries
	if len(entries) > h-3 {
		entries = entries[len(entries)-(h-3):]
	}
	for i := len(entries) - 1; i >= 0; i-- {
		d := entries[i]
		line := fmt.Sprintf("%-28s %-10s %s", d.Action, truncate(string(d.Mint), 10), d.ReasonCode)
		if d.ReplacementMint != "" {
			line += " -> " + string(d.ReplacementMint)
		}
		b.WriteString(line + "\n")
	}
	return renderBox("Rotation Log", b.String(), w, h)
}

// --- HELPERS ---

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxi(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func mini(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func truncate(s string, n int) string { return runewidth.Truncate(s, n, "") }

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

func SendPositions(p *tea.Program, pos []*ledger.PositionTracking) { p.Send(PositionsMsg{pos}) }
func SendRanked(p *tea.Program, items []ranker.RankedItem)         { p.Send(RankedMsg{items}) }
func SendRotation(p *tea.Program, d rotation.Decision)             { p.Send(RotationMsg{d}) }
func SendEquity(p *tea.Program, usd float64)                       { p.Send(EquityMsg{usd}) }
func SendLatency(p *tea.Program, ms int64)                         { p.Send(LatencyMsg{ms}) }
func SendLogs(p *tea.Program, l []string)                          { p.Send(LogMsg{l}) }
func SendCircuit(p *tea.Program, s risk.State)                     { p.Send(CircuitMsg{s}) }

// --- VISUAL COMPONENTS (box/gauge/sparkline chrome, domain-independent) ---

func renderBox(title, content string, w, h int) string {
	return renderBoxColor(title, content, w, h, ColorBorder)
}

// renderBoxColor is renderBox with a caller-supplied border color, used by
// the dashboard panes to show a slow-cycling "live" border (animationState).
func renderBoxColor(title, content string, w, h int, border lipgloss.Color) string {
	innerStyle := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, true, true, true).
		BorderForeground(border).
		Width(w - 2).
		Height(h).
		Padding(0, 0)

	body := innerStyle.Render(content)

	borderStyle := lipgloss.NewStyle().Foreground(border)
	titleStyle := lipgloss.NewStyle().Foreground(ColorActive).Bold(true)

	cornerL := borderStyle.Render("┌")
	cornerR := borderStyle.Render("┐")

	titleLen := runewidth.StringWidth(title)
	dashLen := (w - 2) - (titleLen + 3)
	if dashLen < 0 {
		dashLen = 0
	}

	topLine := cornerL +
		borderStyle.Render("─ ") +
		titleStyle.Render(title) +
		borderStyle.Render(" "+strings.Repeat("─", dashLen)) +
		cornerR

	return lipgloss.JoinVertical(lipgloss.Left, topLine, body)
}

func renderGauge(percent float64, width int, color lipgloss.Color) string {
	if width < 5 {
		return ""
	}
	w := width
	filled := int(float64(w) * (percent / 100.0))
	if filled > w {
		filled = w
	}
	if filled < 0 {
		filled = 0
	}
	empty := w - filled
	if empty < 0 {
		empty = 0
	}

	bar := strings.Repeat("█", filled)
	space := strings.Repeat("░", empty)

	return lipgloss.NewStyle().Foreground(color).Render(bar) +
		lipgloss.NewStyle().Foreground(ColorBorder).Render(space)
}

func renderSparkline(data []int, width int) string {
	if width < 1 {
		return ""
	}
	if len(data) == 0 {
		return strings.Repeat(" ", width)
	}

	min, max := data[0], data[0]
	for _, v := range data {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	rangeVal := max - min
	if rangeVal == 0 {
		rangeVal = 1
	}

	levels := []string{" ", "▂", "▃", "▄", "▅", "▆", "▇", "█"}

	points := data
	if len(points) > width {
		points = points[len(points)-width:]
	}

	var s string
	for _, v := range points {
		l := (v - min) * 7 / rangeVal
		if l < 0 {
			l = 0
		}
		if l > 7 {
			l = 7
		}
		s += levels[l]
	}
	return s
}

func renderBar(pct, width int) string {
	if width < 1 {
		return ""
	}
	filled := width * pct / 100
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func renderLineGauge(percent float64, width int, color lipgloss.Color) string {
	return renderGauge(percent, width, color)
}
