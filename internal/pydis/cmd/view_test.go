package cmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/v2/list"
	tea "github.com/charmbracelet/bubbletea/v2"
)

var errTest = errors.New("boom")

func loadedView(t *testing.T) viewModel {
	t.Helper()
	t.Setenv("PYDIS_NO_COLOR", "1")
	in := mustLoad(t, writeModule(t, t.TempDir()), inputOptions{})

	m := newViewModel(in.path, inputOptions{})
	next, _ := m.Update(loadedMsg{in: in})
	next, _ = next.Update(tea.WindowSizeMsg{Width: 120, Height: 30})
	return next.(viewModel)
}

func TestViewLoading(t *testing.T) {
	m := newViewModel("m.pyc", inputOptions{})
	if !strings.Contains(m.View(), "Loading m.pyc") {
		t.Errorf("view = %q", m.View())
	}

	next, _ := m.Update(loadedMsg{err: errTest})
	if v := next.(viewModel).View(); !strings.Contains(v, "Error: boom") {
		t.Errorf("view = %q", v)
	}
}

func TestViewSelection(t *testing.T) {
	m := loadedView(t)
	if n := len(m.objects.Items()); n != 2 {
		t.Fatalf("list has %d items, want 2", n)
	}
	if v := m.listing.View(); !strings.Contains(v, "# <module> @ line 1") {
		t.Errorf("listing = %q", v)
	}

	next, _ := m.Update(tea.KeyPressMsg{Code: tea.KeyDown})
	m = next.(viewModel)
	if m.shown != m.in.code.Children()[0] {
		t.Fatalf("shown = %v, want f", m.shown)
	}
	if v := m.listing.View(); !strings.Contains(v, "# f @ line 2") {
		t.Errorf("listing = %q", v)
	}
}

func TestViewFollowsObjectNotIndex(t *testing.T) {
	m := loadedView(t)
	items := m.objects.Items()
	if m.objects.Index() != 0 || m.shown != m.in.code {
		t.Fatalf("index %d shows %v", m.objects.Index(), m.shown)
	}

	// same index, different object, as after narrowing with a filter
	m.objects.SetItems([]list.Item{items[1], items[0]})
	m.showSelected()
	if m.shown != m.in.code.Children()[0] {
		t.Fatalf("shown = %v, want f", m.shown)
	}
	if v := m.listing.View(); !strings.Contains(v, "# f @ line 2") {
		t.Errorf("listing = %q", v)
	}
}

func TestViewKeys(t *testing.T) {
	m := loadedView(t)

	tests := []struct {
		name string
		key  tea.KeyPressMsg
		want focus
	}{
		{"tab to listing", tea.KeyPressMsg{Code: tea.KeyTab}, focusListing},
		{"tab back", tea.KeyPressMsg{Code: tea.KeyTab}, focusObjects},
		{"enter", tea.KeyPressMsg{Code: tea.KeyEnter}, focusListing},
		{"esc", tea.KeyPressMsg{Code: tea.KeyEscape}, focusObjects},
	}
	for _, tt := range tests {
		next, _ := m.Update(tt.key)
		m = next.(viewModel)
		if m.focus != tt.want {
			t.Errorf("%s: focus = %d, want %d", tt.name, m.focus, tt.want)
		}
	}

	_, cmd := m.Update(tea.KeyPressMsg{Code: 'q', Text: "q"})
	if cmd == nil {
		t.Fatal("q returned no command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
