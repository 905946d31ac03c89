package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fahmaliyi/assetlabel/inventory"
)

type model struct {
	items   []*inventory.Item
	visible []*inventory.Item
	webURL  func(*inventory.Item) string

	state    string // "table", "filter"
	table    table.Model
	filter   textinput.Model
	selected *inventory.Item
	msg      string

	// copy is swapped out in tests.
	copy func(string) error
}

// RunBrowser shows items in a table and returns the one the user picks.
func RunBrowser(ctx context.Context, items []*inventory.Item, webURL func(*inventory.Item) string) (*inventory.Item, error) {
	p := tea.NewProgram(newModel(items, webURL), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("browser: %w", err)
	}
	return final.(model).selected, nil
}

func newModel(items []*inventory.Item, webURL func(*inventory.Item) string) model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ID", Width: 7},
			{Title: "Name", Width: 30},
			{Title: "Tag", Width: 12},
			{Title: "Model", Width: 22},
			{Title: "Status", Width: 18},
		}),
		table.WithFocused(true),
		table.WithHeight(min(len(items), 15)+1),
	)
	styles := table.DefaultStyles()
	styles.Selected = selectedStyle
	t.SetStyles(styles)

	fi := textinput.New()
	fi.Placeholder = "filter"
	fi.Prompt = "/ "

	m := model{
		items:  items,
		webURL: webURL,
		state:  "table",
		table:  t,
		filter: fi,
		copy:   clipboard.WriteAll,
	}
	m.applyFilter()
	return m
}

func itemRow(it *inventory.Item) table.Row {
	f := it.Fields()
	return table.Row{it.ID, f["name"], f["asset_tag"], f["model_name"], f["status_label_name"]}
}

// applyFilter keeps the items whose row contains the filter text,
// case-insensitively.
func (m *model) applyFilter() {
	needle := strings.ToLower(strings.TrimSpace(m.filter.Value()))
	m.visible = make([]*inventory.Item, 0, len(m.items))
	rows := make([]table.Row, 0, len(m.items))
	for _, it := range m.items {
		row := itemRow(it)
		if needle != "" && !strings.Contains(strings.ToLower(strings.Join(row, " ")), needle) {
			continue
		}
		m.visible = append(m.visible, it)
		rows = append(rows, row)
	}
	m.table.SetRows(rows)
	m.table.SetCursor(0)
}

func (m model) current() *inventory.Item {
	i := m.table.Cursor()
	if i < 0 || i >= len(m.visible) {
		return nil
	}
	return m.visible[i]
}

// --- Tea Model interface ---
func (m model) Init() tea.Cmd {
	return nil
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch m.state {
	case "table":
		return updateTable(m, msg)
	case "filter":
		return updateFilter(m, msg)
	default:
		return m, nil
	}
}

func (m model) View() string {
	s := titleStyle.Render(fmt.Sprintf("%d items", len(m.visible))) + "\n\n"
	s += m.table.View() + "\n"
	if m.state == "filter" || m.filter.Value() != "" {
		s += "\n" + m.filter.View()
	}
	if m.msg != "" {
		s += "\n" + msgStyle.Render(m.msg)
	}
	if m.state == "filter" {
		s += "\nenter=apply, esc=clear"
	} else {
		s += "\nCommands: j/k=move, enter=select, c=copy URL, /=filter, q=quit"
	}
	return s
}

// --- Table ---
func updateTable(m model, msg tea.Msg) (model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		m.msg = ""
		switch key.String() {
		case "q", "ctrl+c", "esc":
			m.selected = nil
			return m, tea.Quit
		case "enter":
			if it := m.current(); it != nil {
				m.selected = it
				return m, tea.Quit
			}
			return m, nil
		case "c":
			if it := m.current(); it != nil {
				if err := m.copy(m.webURL(it)); err != nil {
					m.msg = "Copy failed: " + err.Error()
				} else {
					m.msg = "URL copied!"
				}
			}
			return m, nil
		case "/":
			m.state = "filter"
			return m, m.filter.Focus()
		}
	}
	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// --- Filter ---
func updateFilter(m model, msg tea.Msg) (model, tea.Cmd) {
	if key, ok := msg.(tea.KeyMsg); ok {
		switch key.String() {
		case "ctrl+c":
			m.selected = nil
			return m, tea.Quit
		case "enter":
			m.state = "table"
			m.filter.Blur()
			return m, nil
		case "esc":
			m.state = "table"
			m.filter.Blur()
			m.filter.SetValue("")
			m.applyFilter()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.filter, cmd = m.filter.Update(msg)
	m.applyFilter()
	return m, cmd
}
