package ui

import "strings"

const (
	reset       = "\033[0m"
	bold        = "\033[1m"
	beeYellow   = "\033[38;5;226m"
	honeyOrange = "\033[38;5;214m"
	mint        = "\033[38;5;121m"
	cobalt      = "\033[38;5;33m"
	deepIndigo  = "\033[38;5;61m"
	fuchsia     = "\033[38;5;177m"
	pcpFlame    = "\033[38;5;208m"
)

// Banner renders a colored pcpwatch wordmark.
func Banner() string {
	var b strings.Builder

	letters := [][]string{
		{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔═══╝ ", "██║     ", "╚═╝     "},
		{" ██████╗", "██╔════╝", "██║     ", "██║     ", "╚██████╗", " ╚═════╝"},
		{"██████╗ ", "██╔══██╗", "██████╔╝", "██╔═══╝ ", "██║     ", "╚═╝     "},
	}
	gradient := []string{pcpFlame, honeyOrange, beeYellow, mint, cobalt, deepIndigo, fuchsia}
	rows := make([]string, len(letters[0]))
	for i, letter := range letters {
		color := gradient[i%len(gradient)]
		for row := 0; row < len(letter); row++ {
			rows[row] += color + letter[row] + "  "
		}
	}
	for _, line := range rows {
		b.WriteString(bold + line + reset + "\n")
	}

	b.WriteString("\n")
	b.WriteString(bold + pcpFlame + "pcpwatch" + reset + "  •  per-CPU page cache lens\n\n")

	return b.String()
}
