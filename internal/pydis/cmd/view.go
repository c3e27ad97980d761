package cmd

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"
	"github.com/spf13/cobra"

	"pydis/internal/code"
	"pydis/internal/disasm"
	"pydis/internal/pydis/styles"
	"pydis/internal/ui/colorize"
)

var viewCmd = &cobra.Command{
	Use:   "view [file]",
	Short: "Browse the listing of every code object interactively",
	Long: `View opens a terminal UI with the code objects of the input on the left and
the highlighted listing of the selected one on the right.`,
	Example: `
# Browse a compiled module
pydis view __pycache__/m.cpython-310.pyc
  `,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		program := tea.NewProgram(
			newViewModel(args[0], inputOptionsFromFlags(cmd)),
			tea.WithAltScreen(),
			tea.WithContext(cmd.Context()),
		)
		if _, err := program.Run(); err != nil {
			slog.Error("TUI run error", "error", err)
			return fmt.Errorf("TUI error: %w", err)
		}
		return nil
	},
}

type focus int

const (
	focusObjects focus = iota
	focusListing
)

// codeItem is one entry of the code object list.
type codeItem struct {
	co    *code.Code
	depth int
}

func (i codeItem) Title() string       { return strings.Repeat("  ", i.depth) + i.co.Name }
func (i codeItem) Description() string { return fmt.Sprintf("line %d", i.co.FirstLineNo) }
func (i codeItem) FilterValue() string { return i.co.Name }

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(codeItem)
	if !ok {
		return
	}
	indicator, style := " ", styles.Dim
	if index == m.Index() {
		indicator, style = ">", styles.Selected
	}
	fmt.Fprintf(w, " %s %s %s", indicator, i.Title(), style.Render(fmt.Sprintf(":%d", i.co.FirstLineNo)))
}

// loadedMsg carries the result of loading the input.
type loadedMsg struct {
	in  *input
	err error
}

func loadCmd(path string, o inputOptions) tea.Cmd {
	return func() tea.Msg {
		in, err := loadInput(path, o)
		return loadedMsg{in: in, err: err}
	}
}

type viewModel struct {
	objects  list.Model
	listing  viewport.Model
	spinner  spinner.Model
	focus    focus
	path     string
	opts     inputOptions
	in       *input
	err      error
	loading  bool
	shown    *code.Code
	width    int
	height   int
}

func newViewModel(path string, o inputOptions) viewModel {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	objects := list.New([]list.Item{}, itemDelegate{}, 30, 24)
	objects.SetShowStatusBar(false)
	objects.SetFilteringEnabled(true)
	objects.SetShowHelp(false)
	objects.Title = "Code objects"
	objects.Styles.Title = styles.ListTitle

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.Selected

	return viewModel{
		objects:  objects,
		listing:  vp,
		spinner:  s,
		path:     path,
		opts:     o,
		loading:  true,
		width:    80,
		height:   24,
	}
}

func (m viewModel) Init() tea.Cmd {
	return tea.Batch(loadCmd(m.path, m.opts), m.spinner.Tick)
}

func (m viewModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case loadedMsg:
		m.loading = false
		m.err = msg.err
		if msg.err == nil {
			m.setInput(msg.in)
		}
		return m, nil

	case spinner.TickMsg:
		if !m.loading {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case tea.KeyMsg:
		if m.focus == focusObjects && m.objects.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m.quit()
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m.quit()
		case "tab":
			if m.focus == focusObjects {
				m.focus = focusListing
			} else {
				m.focus = focusObjects
			}
			return m, nil
		case "esc":
			m.focus = focusObjects
			return m, nil
		case "enter":
			if m.focus == focusObjects {
				m.showSelected()
				m.focus = focusListing
			}
			return m, nil
		}
	}

	if m.focus == focusListing {
		m.listing, cmd = m.listing.Update(msg)
		return m, cmd
	}
	m.objects, cmd = m.objects.Update(msg)
	// follow the cursor
	m.showSelected()
	return m, cmd
}

func (m viewModel) quit() (tea.Model, tea.Cmd) {
	if m.in != nil {
		m.in.Close()
	}
	return m, tea.Quit
}

func (m *viewModel) setInput(in *input) {
	m.in = in
	var items []list.Item
	in.code.Walk(func(co *code.Code, depth int) bool {
		items = append(items, codeItem{co: co, depth: depth})
		return true
	})
	m.objects.SetItems(items)
	m.objects.Title = fmt.Sprintf("Code objects (%d)", len(items))
	m.shown = nil
	m.showSelected()
}

// showSelected renders the listing of the highlighted code object.
func (m *viewModel) showSelected() {
	item, ok := m.objects.SelectedItem().(codeItem)
	// filtering changes what an index points at
	if !ok || m.in == nil || item.co == m.shown {
		return
	}
	m.shown = item.co
	m.listing.SetContent(renderListing(item.co, m.in))
	m.listing.GotoTop()
}

func (m *viewModel) layout() {
	listWidth := min(40, m.width/3)
	m.objects.SetSize(listWidth, m.height-1)
	m.listing.SetWidth(m.width - listWidth - 1)
	m.listing.SetHeight(m.height - 1)
}

// renderListing disassembles co alone; a failure is shown after the rows
// that rendered.
func renderListing(co *code.Code, in *input) string {
	var buf bytes.Buffer
	err := disasm.New(&buf, disasm.WithTable(in.table), disasm.WithLogger(in.logger.Logger)).Disassemble(co)
	text := buf.String()
	if colorize.Enabled() {
		if out, cerr := colorize.Listing(text); cerr == nil {
			text = out
		}
	}
	if err != nil {
		text += "\n! " + err.Error() + "\n"
	}
	return strings.TrimSuffix(text, "\n")
}

func (m viewModel) View() string {
	var content string
	switch {
	case m.loading:
		content = fmt.Sprintf("\n  %s Loading %s...", m.spinner.View(), m.path)
	case m.err != nil:
		content = fmt.Sprintf("\n  Error: %v", m.err)
	default:
		content = lipgloss.JoinHorizontal(lipgloss.Top, m.objects.View(), " ", m.listing.View())
	}

	var menu string
	switch {
	case m.in == nil:
		menu = " Q: quit "
	case m.focus == focusListing:
		menu = " ↑/↓: scroll • Tab/Esc: objects • Q: quit "
	default:
		menu = " ↑/↓: select • /: filter • Enter/Tab: listing • Q: quit "
	}
	return content + "\n" + styles.MenuBar.Width(m.width).Render(menu)
}
