package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/pulse/client"
)

type keyMap struct {
	Quit    key.Binding
	Refresh key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
	Refresh: key.NewBinding(
		key.WithKeys("r"),
		key.WithHelp("r", "refresh"),
	),
}

// SnapshotMsg delivers a new metrics snapshot to the model.
type SnapshotMsg client.Snapshot[client.MetricsStatus]

// refreshDoneMsg reports a user-requested refresh outcome.
type refreshDoneMsg struct{ err error }

// Refresher forces a fetch. *client.Store satisfies it.
type Refresher interface {
	FetchStatus(ctx context.Context, force bool) (client.MetricsStatus, error)
}

// WatchModel is a Bubble Tea model over a metrics client store.
type WatchModel struct {
	source   Refresher
	url      string
	snap     client.Snapshot[client.MetricsStatus]
	spinner  spinner.Model
	bar      progress.Model
	notice   string
	width    int
	quitting bool
}

// NewWatchModel creates a model showing data from source.
func NewWatchModel(source Refresher, url string) WatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return WatchModel{
		source:  source,
		url:     url,
		snap:    client.Snapshot[client.MetricsStatus]{State: client.StateIdle},
		spinner: sp,
		bar:     progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
	}
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, keys.Refresh):
			m.notice = "refreshing…"
			return m, m.refresh()
		}

	case SnapshotMsg:
		m.snap = client.Snapshot[client.MetricsStatus](msg)
		return m, nil

	case refreshDoneMsg:
		m.notice = ""
		if msg.err != nil {
			m.notice = "refresh failed: " + msg.err.Error()
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m WatchModel) refresh() tea.Cmd {
	src := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_, err := src.FetchStatus(ctx, true)
		return refreshDoneMsg{err: err}
	}
}

// View implements tea.Model.
func (m WatchModel) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder
	level := client.Freshness(m.snap, func(s client.MetricsStatus) bool { return s.Stale })
	b.WriteString(TitleStyle.Render("pulse"))
	b.WriteString("  ")
	b.WriteString(StateStyle(string(level)).Render(string(level)))
	b.WriteString("  ")
	b.WriteString(LabelStyle.UnsetWidth().Render(m.url))
	b.WriteString("\n\n")

	data := m.snap.Data
	switch {
	case data == nil && m.snap.State == client.StateError:
		b.WriteString(ErrorStyle.Render("error: " + m.snap.Err))
	case data == nil:
		b.WriteString(m.spinner.View() + " loading")
	default:
		b.WriteString(m.renderSummary(*data))
		if m.snap.Err != "" {
			b.WriteString("\n\n")
			b.WriteString(ErrorStyle.Render("error: " + m.snap.Err))
		}
	}

	if m.notice != "" {
		b.WriteString("\n\n")
		b.WriteString(WarningStyle.Render(m.notice))
	}
	b.WriteString("\n")
	b.WriteString(HelpStyle.Render("r refresh • q quit"))
	return b.String()
}

func (m WatchModel) renderSummary(s client.MetricsStatus) string {
	var b strings.Builder
	if s.User != "" {
		b.WriteString(field("Account", s.User))
	}
	if !s.GeneratedAt.IsZero() {
		b.WriteString(field("Generated", s.GeneratedAt.UTC().Format(time.RFC3339)))
	}
	if !s.CachedAt.IsZero() {
		b.WriteString(field("Server cache", s.CachedAt.UTC().Format(time.RFC3339)))
	}
	if !s.RateLimitedUntil.IsZero() {
		b.WriteString(field("Rate limited until", WarningStyle.Render(s.RateLimitedUntil.UTC().Format(time.RFC3339))))
	}
	if !s.RefreshLockedUntil.IsZero() {
		b.WriteString(field("Refresh locked", WarningStyle.Render(s.RefreshLockedUntil.UTC().Format(time.RFC3339))))
	}
	b.WriteString("\n")

	b.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		statBox("Repos", s.TotalRepos, highlightColor),
		statBox("Stars", s.TotalStars, warningColor),
		statBox("Commits 4w", s.Last4Weeks.Commits, successColor),
		statBox("Commits 52w", s.Last52Weeks.Commits, successColor),
		statBox("Contributions", s.Contributions, primaryColor),
	))

	if s.InProgress {
		b.WriteString("\n\n")
		b.WriteString(WarningStyle.Render(m.spinner.View() + " update in progress"))
		if p := s.Progress; p != nil && p.TotalRepos > 0 {
			b.WriteString("\n")
			b.WriteString(m.bar.ViewAs(float64(p.ProcessedRepos) / float64(p.TotalRepos)))
			b.WriteString(fmt.Sprintf(" %d/%d", p.ProcessedRepos, p.TotalRepos))
		}
	}

	if len(s.TopRepos) > 0 {
		b.WriteString("\n\n")
		b.WriteString(TitleStyle.Render("Top repositories"))
		for _, r := range s.TopRepos {
			b.WriteString("\n")
			b.WriteString(fmt.Sprintf("  %-32s ★ %-6d commits %d", r.FullName, r.Stars, r.CommitsByYear))
		}
	}
	return b.String()
}

func field(label, value string) string {
	return LabelStyle.Render(label+":") + " " + ValueStyle.Render(value) + "\n"
}

func statBox(label string, value int, color lipgloss.Color) string {
	v := StatValueStyle.Foreground(color).Render(fmt.Sprintf("%d", value))
	content := lipgloss.JoinVertical(lipgloss.Center, v, StatLabelStyle.Render(label))
	return StatBoxStyle.BorderForeground(color).Render(content)
}

// RunWatch runs the interactive view until the user quits. Snapshots from
// store are forwarded to the program for as long as it runs.
func RunWatch(store *client.Store[client.MetricsStatus], url string) error {
	p := tea.NewProgram(NewWatchModel(store, url), tea.WithAltScreen())
	unsubscribe := store.Subscribe(func(s client.Snapshot[client.MetricsStatus]) {
		go p.Send(SnapshotMsg(s))
	})
	defer unsubscribe()
	_, err := p.Run()
	return err
}
