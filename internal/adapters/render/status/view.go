package status

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bnema/redpost/internal/application"
	"github.com/bnema/redpost/internal/domain"
)

const titleDisplayWidth = 32

type RenderOptions struct {
	Now time.Time
}

func renderView(tasks []domain.Task, stats application.BatchStats, opts RenderOptions, s styles) string {
	lines := []string{
		s.title.Render("Publish Queue"),
		s.header.Render(fmt.Sprintf("tasks: %d", len(tasks))),
	}

	if len(tasks) == 0 {
		lines = append(lines, s.empty.Render("No tasks in the queue."))
	} else {
		for _, group := range groupByAccount(tasks) {
			lines = append(lines, s.section.Render(renderAccount(group, opts, s)))
		}
	}

	if stats.Total() > 0 {
		lines = append(lines, s.section.Render(renderSummary(stats, s)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

type accountGroup struct {
	key   domain.AccountKey
	tasks []domain.Task
}

// groupByAccount buckets tasks per account, keeping first-seen account
// order and queue order within each account.
func groupByAccount(tasks []domain.Task) []accountGroup {
	index := make(map[domain.AccountKey]int)
	var groups []accountGroup
	for _, task := range tasks {
		i, ok := index[task.Account]
		if !ok {
			i = len(groups)
			index[task.Account] = i
			groups = append(groups, accountGroup{key: task.Account})
		}
		groups[i].tasks = append(groups[i].tasks, task)
	}
	return groups
}

func renderAccount(group accountGroup, opts RenderOptions, s styles) string {
	parts := []string{
		s.account.Render(fmt.Sprintf("Account: %s (%d tasks)", group.key, len(group.tasks))),
	}
	for _, task := range group.tasks {
		parts = append(parts, renderTask(task, opts, s))
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderTask(task domain.Task, opts RenderOptions, s styles) string {
	glyph, style := statusGlyph(task.Status, s)

	line := lipgloss.JoinHorizontal(
		lipgloss.Top,
		style.Render(glyph),
		" ",
		s.detail.Render(task.ID),
		"  ",
		s.detail.Render(displayTitle(task.Title)),
		"  ",
		s.summaryKey.Render(scheduleLabel(task, opts.Now)),
	)
	return line
}

func statusGlyph(status domain.TaskStatus, s styles) (string, lipgloss.Style) {
	switch status {
	case domain.StatusInProgress:
		return ">", s.active
	case domain.StatusPublished:
		return "+", s.published
	case domain.StatusFailed:
		return "x", s.failed
	case domain.StatusExpired:
		return "!", s.expired
	default:
		return ".", s.pending
	}
}

func displayTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= titleDisplayWidth {
		return title
	}
	return string(runes[:titleDisplayWidth-1]) + "…"
}

func scheduleLabel(task domain.Task, now time.Time) string {
	switch task.Status {
	case domain.StatusPublished:
		return "published"
	case domain.StatusFailed:
		return "failed"
	case domain.StatusExpired:
		return "expired"
	case domain.StatusInProgress:
		return "publishing"
	}

	if task.ScheduledAt.IsZero() {
		return "unscheduled"
	}
	if now.IsZero() {
		return "at " + task.ScheduledAt.Format("15:04 on 02 Jan")
	}
	if !task.ScheduledAt.After(now) {
		return "due now"
	}

	remaining := task.ScheduledAt.Sub(now)
	switch {
	case remaining < time.Hour:
		minutes := int(math.Ceil(remaining.Minutes()))
		return fmt.Sprintf("in %dm (%s)", minutes, task.ScheduledAt.Format("15:04"))
	case remaining < 24*time.Hour:
		hours := int(math.Ceil(remaining.Hours()))
		return fmt.Sprintf("in %dh (%s)", hours, task.ScheduledAt.Format("15:04"))
	}
	return "at " + task.ScheduledAt.Format("15:04 on 02 Jan")
}

func renderSummary(stats application.BatchStats, s styles) string {
	bar := renderProgressBar(float64(stats.Succeeded)/float64(stats.Total())*100, 24, s)

	counts := fmt.Sprintf("published %d  failed %d  expired %d  total %d",
		stats.Succeeded, stats.Failed, stats.Expired, stats.Total())

	return lipgloss.JoinVertical(
		lipgloss.Left,
		s.summaryKey.Render("Batch summary"),
		lipgloss.JoinHorizontal(lipgloss.Top, bar, " ", s.detail.Render(counts)),
	)
}

func renderProgressBar(percent float64, width int, s styles) string {
	if width <= 0 {
		return ""
	}

	fraction := clampPercent(percent) / 100.0
	filled := int(math.Round(float64(width) * fraction))
	if filled < 0 {
		filled = 0
	}
	if filled > width {
		filled = width
	}

	empty := width - filled
	fillSegment := s.barFill.Render(strings.Repeat("=", filled))
	emptySegment := s.barEmpty.Render(strings.Repeat("-", empty))

	return lipgloss.JoinHorizontal(
		lipgloss.Top,
		s.barBracket.Render("["),
		fillSegment,
		emptySegment,
		s.barBracket.Render("]"),
	)
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
