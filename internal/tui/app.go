package tui

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/subdrift/subdrift/internal/config"
	"github.com/subdrift/subdrift/internal/database/repository"
	"github.com/subdrift/subdrift/internal/prefs"
	"github.com/subdrift/subdrift/internal/service"
)

// App ties together views.
type App struct {
	ctx      context.Context
	cfg      config.Config
	repos    Repos
	services Services

	state        appState
	status       string
	width        int
	height       int
	subCursor    int
	merchCursor  int
	inputBuffer  string
	confirmReset bool

	subscriptions []subscriptionView
	merchants     []merchantView
	history       []repository.PriceChangeEvent
	historyFor    string
	lastImport    *service.IngestResult
}

type Repos struct {
	Transactions *repository.TransactionRepo
	Merchants    *repository.MerchantRepo
	Recurring    *repository.RecurringChargeRepo
	Events       *repository.PriceChangeRepo
}

type Services struct {
	Ingest      *service.IngestService
	Pipeline    *service.DetectionPipeline
	Maintenance *service.MaintenanceService
}

type appState string

const (
	viewSubscriptions appState = "subscriptions"
	viewHistory       appState = "history"
	viewMerchants     appState = "merchants"
	viewImport        appState = "import"
	viewSettings      appState = "settings"
)

type subscriptionView struct {
	charge   repository.RecurringCharge
	merchant string
	drift    service.DriftMetrics
}

type merchantView struct {
	merchant repository.Merchant
	aliases  int
	txCount  int
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	activeTab   = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	cursorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	upStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	downStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
)

func New(ctx context.Context, cfg config.Config, repos Repos, services Services) *App {
	a := &App{
		ctx:         ctx,
		cfg:         cfg,
		repos:       repos,
		services:    services,
		state:       viewSubscriptions,
		inputBuffer: "statement.csv",
	}
	a.refresh()
	return a
}

func (a *App) Init() tea.Cmd { return nil }

func (a *App) refresh() {
	a.subscriptions = nil
	charges, err := a.repos.Recurring.List(a.ctx, true)
	if err != nil {
		a.status = fmt.Sprintf("load charges: %v", err)
		return
	}
	names := map[string]string{}
	merchants, err := a.repos.Merchants.List(a.ctx)
	if err != nil {
		a.status = fmt.Sprintf("load merchants: %v", err)
		return
	}
	for _, m := range merchants {
		names[m.ID] = m.CanonicalName
	}
	for _, c := range charges {
		a.subscriptions = append(a.subscriptions, subscriptionView{
			charge:   c,
			merchant: names[c.MerchantID],
			drift:    service.CalculateDriftMetrics(c.FirstAmountCents, c.CurrentAmountCents, c.FirstSeenAt, c.LastSeenAt),
		})
	}

	a.merchants = nil
	counts := map[string]int{}
	if mcs, err := a.repos.Transactions.CountByMerchant(a.ctx); err == nil {
		for _, mc := range mcs {
			counts[mc.MerchantID] = mc.Count
		}
	}
	for _, m := range merchants {
		n, _ := a.repos.Merchants.CountAliases(a.ctx, m.ID)
		a.merchants = append(a.merchants, merchantView{merchant: m, aliases: n, txCount: counts[m.ID]})
	}

	if a.subCursor >= len(a.subscriptions) {
		a.subCursor = 0
	}
	if a.merchCursor >= len(a.merchants) {
		a.merchCursor = 0
	}
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width, a.height = msg.Width, msg.Height
		return a, nil
	case tea.KeyMsg:
		return a.handleKey(msg)
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.state == viewImport {
		return a.handleImportKey(msg)
	}
	if a.confirmReset {
		switch msg.String() {
		case "y":
			if err := a.services.Maintenance.Reset(a.ctx); err != nil {
				a.status = fmt.Sprintf("reset: %v", err)
			} else {
				a.status = "database reset"
			}
			a.confirmReset = false
			a.refresh()
		default:
			a.confirmReset = false
			a.status = "reset cancelled"
		}
		return a, nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		return a, tea.Quit
	case "1":
		a.state = viewSubscriptions
	case "2":
		a.state = viewMerchants
	case "3":
		a.state = viewImport
	case "4":
		a.state = viewSettings
	case "esc":
		if a.state == viewHistory {
			a.state = viewSubscriptions
		}
	case "j", "down":
		a.moveCursor(1)
	case "k", "up":
		a.moveCursor(-1)
	case "enter":
		if a.state == viewSubscriptions && len(a.subscriptions) > 0 {
			a.openHistory(a.subscriptions[a.subCursor])
		}
	case "x":
		if a.state == viewMerchants && len(a.merchants) > 0 {
			a.toggleExcluded(a.merchants[a.merchCursor].merchant)
		}
	case "d":
		if a.state == viewSubscriptions || a.state == viewMerchants {
			a.runPipeline()
		}
	case "R":
		if a.state == viewSettings {
			a.confirmReset = true
		}
	}
	return a, nil
}

func (a *App) handleImportKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c":
		return a, tea.Quit
	case "esc":
		a.state = viewSubscriptions
	case "enter":
		a.runImport()
	case "backspace":
		if len(a.inputBuffer) > 0 {
			a.inputBuffer = a.inputBuffer[:len(a.inputBuffer)-1]
		}
	default:
		if len(msg.String()) == 1 {
			a.inputBuffer += msg.String()
		}
	}
	return a, nil
}

func (a *App) moveCursor(delta int) {
	switch a.state {
	case viewSubscriptions:
		a.subCursor = clamp(a.subCursor+delta, len(a.subscriptions))
	case viewMerchants:
		a.merchCursor = clamp(a.merchCursor+delta, len(a.merchants))
	}
}

func clamp(v, n int) int {
	if n == 0 {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

func (a *App) openHistory(sv subscriptionView) {
	events, err := a.repos.Events.ListForCharge(a.ctx, sv.charge.ID)
	if err != nil {
		a.status = fmt.Sprintf("load history: %v", err)
		return
	}
	a.history = events
	a.historyFor = sv.merchant
	a.state = viewHistory
}

func (a *App) toggleExcluded(m repository.Merchant) {
	if err := a.repos.Merchants.SetExcluded(a.ctx, m.ID, !m.Excluded); err != nil {
		a.status = fmt.Sprintf("toggle exclusion: %v", err)
		return
	}
	a.saveExclusions()
	a.runPipeline()
	if m.Excluded {
		a.status = fmt.Sprintf("%s included again", m.CanonicalName)
	} else {
		a.status = fmt.Sprintf("%s excluded from detection", m.CanonicalName)
	}
}

func (a *App) saveExclusions() {
	merchants, err := a.repos.Merchants.List(a.ctx)
	if err != nil {
		return
	}
	var names []string
	for _, m := range merchants {
		if m.Excluded {
			names = append(names, m.CanonicalName)
		}
	}
	_ = prefs.SaveExclusions(names)
}

func (a *App) runPipeline() {
	res, err := a.services.Pipeline.Run(a.ctx)
	if err != nil {
		a.status = fmt.Sprintf("detection: %v", err)
		return
	}
	a.status = fmt.Sprintf("detection done: %d resolved, %d recurring, %d issues", res.Resolved, res.Recurring, len(res.Errors))
	a.refresh()
}

func (a *App) runImport() {
	f, err := os.Open(a.inputBuffer)
	if err != nil {
		a.status = fmt.Sprintf("open: %v", err)
		return
	}
	defer f.Close()
	res, err := a.services.Ingest.ImportStatement(a.ctx, f, a.cfg.Ingest.DefaultAccount)
	if err != nil {
		a.status = fmt.Sprintf("import: %v", err)
		return
	}
	a.lastImport = &res
	a.status = fmt.Sprintf("imported %d, skipped %d, %d errors", res.Imported, res.Skipped, len(res.Errors))
	a.runPipeline()
	a.state = viewSubscriptions
}

func (a *App) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("subdrift") + "  " + a.tabs() + "\n\n")

	switch a.state {
	case viewSubscriptions:
		b.WriteString(a.viewSubscriptionList())
	case viewHistory:
		b.WriteString(a.viewHistoryList())
	case viewMerchants:
		b.WriteString(a.viewMerchantList())
	case viewImport:
		b.WriteString(a.viewImportPrompt())
	case viewSettings:
		b.WriteString(a.viewSettingsPane())
	}

	if a.status != "" {
		b.WriteString("\n" + statusStyle.Render(a.status))
	}
	b.WriteString("\n" + dimStyle.Render(a.helpLine()))
	return b.String()
}

func (a *App) tabs() string {
	labels := []struct {
		state appState
		label string
	}{
		{viewSubscriptions, "1:subscriptions"},
		{viewMerchants, "2:merchants"},
		{viewImport, "3:import"},
		{viewSettings, "4:settings"},
	}
	var parts []string
	for _, l := range labels {
		if a.state == l.state || (a.state == viewHistory && l.state == viewSubscriptions) {
			parts = append(parts, activeTab.Render(l.label))
		} else {
			parts = append(parts, dimStyle.Render(l.label))
		}
	}
	return strings.Join(parts, "  ")
}

func (a *App) viewSubscriptionList() string {
	if len(a.subscriptions) == 0 {
		return dimStyle.Render("no recurring charges detected yet — import a statement (3), then run detection (d)")
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %-24s %-10s %5s  %10s  %8s  %10s\n", "merchant", "cadence", "conf", "amount", "drift", "annualized"))
	for i, s := range a.subscriptions {
		cursor := "  "
		if i == a.subCursor {
			cursor = cursorStyle.Render("> ")
		}
		line := fmt.Sprintf("%-24s %-10s %4.0f%%  %10s  %7.1f%%  %9.1f%%",
			truncate(s.merchant, 24), s.charge.Frequency, s.charge.Confidence*100,
			a.money(s.charge.CurrentAmountCents), s.drift.PercentChange, s.drift.AnnualizedIncrease)
		if s.drift.TotalChangeCents > 0 {
			line = upStyle.Render(line)
		} else if s.drift.TotalChangeCents < 0 {
			line = downStyle.Render(line)
		}
		b.WriteString(cursor + line + "\n")
	}
	return b.String()
}

func (a *App) viewHistoryList() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("price history: "+a.historyFor) + "\n\n")
	if len(a.history) == 0 {
		b.WriteString(dimStyle.Render("no price changes recorded"))
		return b.String()
	}
	for _, e := range a.history {
		arrow := upStyle.Render("↑")
		if e.ChangeAmountCents < 0 {
			arrow = downStyle.Render("↓")
		}
		b.WriteString(fmt.Sprintf("  %s  %s → %s  %s %+.1f%%\n",
			e.DetectedAt.Format(a.dateFormat()), a.money(e.PreviousAmountCents), a.money(e.NewAmountCents), arrow, e.ChangePercent))
	}
	return b.String()
}

func (a *App) viewMerchantList() string {
	if len(a.merchants) == 0 {
		return dimStyle.Render("no merchants yet")
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %-28s %8s %8s  %s\n", "merchant", "aliases", "charges", ""))
	for i, mv := range a.merchants {
		cursor := "  "
		if i == a.merchCursor {
			cursor = cursorStyle.Render("> ")
		}
		flag := ""
		if mv.merchant.Excluded {
			flag = dimStyle.Render("excluded")
		}
		b.WriteString(cursor + fmt.Sprintf("%-28s %8d %8d  %s\n", truncate(mv.merchant.CanonicalName, 28), mv.aliases, mv.txCount, flag))
	}
	return b.String()
}

func (a *App) viewImportPrompt() string {
	var b strings.Builder
	b.WriteString("path to CSV/TSV export:\n\n  " + a.inputBuffer + cursorStyle.Render("▌") + "\n")
	if a.lastImport != nil {
		b.WriteString(fmt.Sprintf("\nlast import: %d imported, %d skipped, %d errors\n", a.lastImport.Imported, a.lastImport.Skipped, len(a.lastImport.Errors)))
		for i, e := range a.lastImport.Errors {
			if i == 5 {
				b.WriteString(dimStyle.Render(fmt.Sprintf("  … and %d more\n", len(a.lastImport.Errors)-5)))
				break
			}
			b.WriteString(dimStyle.Render("  " + e.Error() + "\n"))
		}
	}
	return b.String()
}

func (a *App) viewSettingsPane() string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  database      %s\n", a.cfg.Database.Path))
	b.WriteString(fmt.Sprintf("  currency      %s\n", a.cfg.UI.CurrencySymbol))
	b.WriteString(fmt.Sprintf("  date format   %s\n", a.dateFormat()))
	if a.confirmReset {
		b.WriteString("\n" + upStyle.Render("wipe all data? press y to confirm"))
	}
	return b.String()
}

func (a *App) helpLine() string {
	switch a.state {
	case viewSubscriptions:
		return "j/k move · enter history · d run detection · q quit"
	case viewHistory:
		return "esc back · q quit"
	case viewMerchants:
		return "j/k move · x toggle exclusion · d run detection · q quit"
	case viewImport:
		return "type path · enter import · esc back"
	case viewSettings:
		return "R reset database · q quit"
	}
	return "q quit"
}

func (a *App) money(cents int64) string {
	return fmt.Sprintf("%s%.2f", a.cfg.UI.CurrencySymbol, float64(cents)/100)
}

func (a *App) dateFormat() string {
	if a.cfg.UI.DateFormat != "" {
		return a.cfg.UI.DateFormat
	}
	return time.DateOnly
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
