// Package tui provides the interactive terminal components for the
// Maximize CLI: an arrow-key menu with a numbered fallback for
// non-interactive terminals, and simple input prompts.
package tui

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	ColorReset  = "\033[0m"
	ColorBold   = "\033[1m"
	ColorDim    = "\033[2m"
	ColorGreen  = "\033[0;32m"
	ColorBlue   = "\033[0;34m"
	ColorCyan   = "\033[0;36m"
	ColorYellow = "\033[1;33m"
	ColorRed    = "\033[0;31m"
)

// ErrCancelled is returned when the user backs out of a menu.
var ErrCancelled = errors.New("cancelled")

// PrintBanner displays the Maximize ASCII banner.
func PrintBanner() {
	fmt.Printf("%s%s", ColorCyan, ColorBold)
	fmt.Println(`
 ███╗   ███╗ █████╗ ██╗  ██╗██╗███╗   ███╗██╗███████╗███████╗
 ████╗ ████║██╔══██╗╚██╗██╔╝██║████╗ ████║██║╚══███╔╝██╔════╝
 ██╔████╔██║███████║ ╚███╔╝ ██║██╔████╔██║██║  ███╔╝ █████╗
 ██║╚██╔╝██║██╔══██║ ██╔██╗ ██║██║╚██╔╝██║██║ ███╔╝  ██╔══╝
 ██║ ╚═╝ ██║██║  ██║██╔╝ ██╗██║██║ ╚═╝ ██║██║███████╗███████╗
 ╚═╝     ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝╚═╝     ╚═╝╚═╝╚══════╝╚══════╝`)
	fmt.Print(ColorReset)
}

// PrintHeader prints a styled section header.
func PrintHeader(title string) {
	fmt.Printf("\n%s%s========================================%s\n", ColorBold, ColorCyan, ColorReset)
	fmt.Printf("%s%s       %s%s\n", ColorBold, ColorCyan, title, ColorReset)
	fmt.Printf("%s%s========================================%s\n\n", ColorBold, ColorCyan, ColorReset)
}

// PrintSuccess prints a success message with green [OK] prefix.
func PrintSuccess(msg string) {
	fmt.Printf("%s[OK]%s %s\n", ColorGreen, ColorReset, msg)
}

// PrintInfo prints an info message with blue [INFO] prefix.
func PrintInfo(msg string) {
	fmt.Printf("%s[INFO]%s %s\n", ColorBlue, ColorReset, msg)
}

// PrintWarn prints a warning message with yellow [WARN] prefix.
func PrintWarn(msg string) {
	fmt.Printf("%s[WARN]%s %s\n", ColorYellow, ColorReset, msg)
}

// PrintError prints an error message with red [ERROR] prefix.
func PrintError(msg string) {
	fmt.Printf("%s[ERROR]%s %s\n", ColorRed, ColorReset, msg)
}

// PrintStep prints a step/action message with cyan >>> prefix.
func PrintStep(msg string) {
	fmt.Printf("%s>>>%s %s\n", ColorCyan, ColorReset, msg)
}

// MenuItem is one entry in a menu.
type MenuItem struct {
	Label       string
	Description string
}

// SelectMenu displays an interactive arrow-key menu and returns the
// selected index. Returns -1 and ErrCancelled if the user backs out.
func SelectMenu(prompt string, items []MenuItem) (int, error) {
	if len(items) == 0 {
		return -1, errors.New("no items to select")
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return selectNumberedMenu(prompt, items)
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return selectNumberedMenu(prompt, items)
	}
	defer term.Restore(fd, oldState)

	selected := 0
	reader := bufio.NewReader(os.Stdin)

	// prompt + blank lines + items + blank + help
	totalLines := 3 + len(items) + 2

	fmt.Print("\033[?25l")
	defer fmt.Print("\033[?25h")

	firstRender := true
	render := func() {
		if !firstRender {
			fmt.Printf("\033[%dA", totalLines)
		}
		firstRender = false

		fmt.Print("\033[2K")
		fmt.Printf("\r\n%s%s%s%s\n\n", ColorBold, ColorCyan, prompt, ColorReset)
		for i, item := range items {
			fmt.Print("\033[2K")
			if i == selected {
				fmt.Printf("\r  %s❯%s %s%s%s", ColorGreen, ColorReset, ColorBold, item.Label, ColorReset)
			} else {
				fmt.Printf("\r    %s", item.Label)
			}
			if item.Description != "" {
				fmt.Printf(" %s- %s%s", ColorDim, item.Description, ColorReset)
			}
			fmt.Print("\n")
		}
		fmt.Print("\033[2K")
		fmt.Printf("\r\n  %s[↑/↓] Navigate  [Enter] Select  [q/Esc] Cancel%s\n", ColorDim, ColorReset)
	}

	clearMenu := func() {
		fmt.Printf("\033[%dA", totalLines)
		for i := 0; i < totalLines; i++ {
			fmt.Print("\033[2K\n")
		}
		fmt.Printf("\033[%dA", totalLines)
	}

	render()

	for {
		b, err := reader.ReadByte()
		if err != nil {
			return -1, err
		}

		switch b {
		case 27: // Escape or arrow-key escape sequence
			next, _ := reader.ReadByte()
			if next == '[' {
				arrow, _ := reader.ReadByte()
				switch arrow {
				case 'A':
					if selected > 0 {
						selected--
					}
				case 'B':
					if selected < len(items)-1 {
						selected++
					}
				}
				render()
				continue
			}
			clearMenu()
			return -1, ErrCancelled
		case 'q':
			clearMenu()
			return -1, ErrCancelled
		case 'k':
			if selected > 0 {
				selected--
			}
			render()
		case 'j':
			if selected < len(items)-1 {
				selected++
			}
			render()
		case 13: // Enter
			clearMenu()
			return selected, nil
		}
	}
}

// selectNumberedMenu is the fallback for non-interactive terminals.
func selectNumberedMenu(prompt string, items []MenuItem) (int, error) {
	fmt.Printf("\n%s%s%s%s\n\n", ColorBold, ColorCyan, prompt, ColorReset)

	for i, item := range items {
		fmt.Printf("  %s[%d]%s %s", ColorGreen, i+1, ColorReset, item.Label)
		if item.Description != "" {
			fmt.Printf(" %s- %s%s", ColorDim, item.Description, ColorReset)
		}
		fmt.Println()
	}
	fmt.Printf("  %s[0]%s Cancel\n\n", ColorYellow, ColorReset)

	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print("Enter number: ")
		input, err := reader.ReadString('\n')
		if err != nil {
			return -1, ErrCancelled
		}
		input = strings.TrimSpace(input)

		if input == "0" || input == "q" {
			return -1, ErrCancelled
		}

		var num int
		if _, err := fmt.Sscanf(input, "%d", &num); err == nil && num >= 1 && num <= len(items) {
			return num - 1, nil
		}
		fmt.Printf("Invalid choice. Enter 1-%d or 0 to cancel.\n", len(items))
	}
}

// PromptString prompts for a string input. Returns empty if skipped.
func PromptString(prompt string) string {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

// PromptYesNo prompts for a yes/no response. Returns the default if empty.
func PromptYesNo(prompt string, defaultYes bool) bool {
	suffix := " [y/N]: "
	if defaultYes {
		suffix = " [Y/n]: "
	}
	fmt.Print(prompt + suffix)

	reader := bufio.NewReader(os.Stdin)
	input, _ := reader.ReadString('\n')
	input = strings.TrimSpace(strings.ToLower(input))

	if input == "" {
		return defaultYes
	}
	return input == "y" || input == "yes"
}
