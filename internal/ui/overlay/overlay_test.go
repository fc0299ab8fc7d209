package overlay

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/stretchr/testify/require"
)

func TestPlace_Center(t *testing.T) {
	bg := "AAAAA\nAAAAA\nAAAAA"
	got := Frame{Width: 5, Height: 3}.Place("XX", bg)

	require.Equal(t, []string{"AAAAA", "AXXAA", "AAAAA"}, strings.Split(got, "\n"))
}

func TestPlace_Bottom(t *testing.T) {
	bg := "AAAAA\nAAAAA\nAAAAA\nAAAAA"
	got := Frame{Width: 5, Height: 4, Anchor: Bottom, Margin: 1}.Place("XXX", bg)

	require.Equal(t, []string{"AAAAA", "AAAAA", "AXXXA", "AAAAA"}, strings.Split(got, "\n"))
}

func TestPlace_PadsShortBackground(t *testing.T) {
	got := Frame{Width: 4, Height: 3}.Place("XX", "AA")

	lines := strings.Split(got, "\n")
	require.Len(t, lines, 3)
	require.Equal(t, " XX ", lines[1])
}

func TestPlace_WiderThanScreen(t *testing.T) {
	got := Frame{Width: 3, Height: 1}.Place("XXXXX", "AAA")
	require.Equal(t, "XXXXX", got)
}

func TestPlace_KeepsStyledBackground(t *testing.T) {
	styled := lipgloss.NewStyle().Bold(true).Render("AAAAAA")
	got := Frame{Width: 6, Height: 1}.Place("XX", styled)

	require.Equal(t, 6, lipgloss.Width(got))
	require.Contains(t, got, "XX")
}

func TestPlace_NothingBelowScreen(t *testing.T) {
	got := Frame{Width: 3, Height: 2, Anchor: Bottom}.Place("X\nY\nZ", "AAA\nAAA")

	// The box starts at row 0 and is clipped to the screen height.
	require.Equal(t, []string{"AXA", "AYA"}, strings.Split(got, "\n"))
}
