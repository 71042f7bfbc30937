package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"plate/api/internal/client"
	"plate/api/internal/model"
)

var (
	Primary   = lipgloss.Color("#4ECDC4")
	Danger    = lipgloss.Color("#FF6B6B")
	Success   = lipgloss.Color("#95E1A3")
	TextMuted = lipgloss.Color("#888888")

	TitleStyle = lipgloss.NewStyle().Bold(true).Foreground(Primary)

	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(TextMuted)

	MutedStyle   = lipgloss.NewStyle().Foreground(TextMuted)
	SuccessStyle = lipgloss.NewStyle().Foreground(Success)

	ToastStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(Danger).
			Padding(0, 1)
)

// toastHandler prints failed background calls as one highlighted line and
// logs them.
func toastHandler(w io.Writer) client.ErrorHandler {
	return client.ErrorHandlerFunc(func(label string, err error) {
		fmt.Fprintln(w, ToastStyle.Render("✗ "+label)+" "+err.Error())
		client.LogErrors.Handle(label, err)
	})
}

// renderPlate draws the headers of a plate side by side as lists.
func renderPlate(w io.Writer, plate model.Plate) {
	fmt.Fprintln(w, TitleStyle.Render(plate.Name)+" "+MutedStyle.Render(plate.ID))
	fmt.Fprintln(w)
	for _, header := range plate.Headers {
		fmt.Fprintf(w, "%s %s\n", HeaderStyle.Render(fmt.Sprintf("%s (%d)", header.Name, len(header.Items))), MutedStyle.Render(header.ID))
		if len(header.Items) == 0 {
			fmt.Fprintln(w, MutedStyle.Render("  (empty)"))
		}
		for _, item := range header.Items {
			line := fmt.Sprintf("  %d. %s", item.Position, item.Title)
			if item.AssigneeID != "" {
				line += MutedStyle.Render(" @" + item.AssigneeID)
			}
			fmt.Fprintf(w, "%s %s\n", line, MutedStyle.Render(item.ID))
		}
		fmt.Fprintln(w)
	}
}

func describeEvent(evt model.Event) string {
	target := evt.ID
	if evt.PlateID != "" && evt.PlateID != evt.ID {
		target = evt.PlateID + "/" + evt.ID
	}
	return fmt.Sprintf("%s %-8s %-12s %s", evt.At.Local().Format("15:04:05"), strings.ToUpper(evt.Change), evt.Entity, target)
}
