package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorBlue, colorCyan, colorGray, colorBold = "", "", "", ""
}

func printRequest(method, path string, body []byte) {
	fmt.Printf("\n%s▶ REQUEST%s %s%s %s%s\n", colorYellow, colorReset, colorBold, method, path, colorReset)
	if body != nil {
		printJSON(body, "  ")
	}
}

func printResponse(status int, body []byte, duration time.Duration) {
	statusColor := colorGreen
	if status >= 400 {
		statusColor = colorRed
	}
	fmt.Printf("\n%s◀ RESPONSE%s %s%d%s (%v)\n", colorCyan, colorReset, statusColor, status, colorReset, duration)
	if len(body) > 0 {
		printJSON(body, "  ")
	}
}

func printJSON(data []byte, prefix string) {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, data, prefix, "  "); err != nil {
		fmt.Printf("%s%s\n", prefix, string(data))
		return
	}

	output := pretty.String()
	if !verbose {
		lines := strings.Split(output, "\n")
		if len(lines) > 30 {
			lines = append(lines[:25], fmt.Sprintf("%s  %s(%d more lines, use -v for full output)%s", prefix, colorGray, len(lines)-25, colorReset))
			output = strings.Join(lines, "\n")
		}
	}
	fmt.Println(output)
}

func printSuccess(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
	}
}

func printError(format string, args ...any) {
	fmt.Printf("%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...any) {
	fmt.Printf("%s⚠ %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...any) {
	if !quiet {
		fmt.Printf("%s→ %s%s\n", colorGray, fmt.Sprintf(format, args...), colorReset)
	}
}

// formatCents renders a cents amount as dollars. Non-numeric values print
// as-is.
func formatCents(v any) string {
	var cents int64
	switch val := v.(type) {
	case float64:
		cents = int64(val)
	case int64:
		cents = val
	case int:
		cents = int64(val)
	default:
		return fmt.Sprintf("%v", v)
	}
	return "$" + decimal.New(cents, -2).StringFixed(2)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
	os.Exit(1)
}
