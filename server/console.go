package main

import (
	"fmt"
	"strings"
)

//
// ===== pretty printing =====
//

var useColor bool

const (
	colReset  = "\033[0m"
	colBold   = "\033[1m"
	colDim    = "\033[2m"
	colGreen  = "\033[32m"
	colYellow = "\033[33m"
	colMag    = "\033[35m"
	colCyan   = "\033[36m"
)

func c(code, s string) string {
	if !useColor {
		return s
	}
	return code + s + colReset
}

func bold(s string) string { return c(colBold, s) }
func dim(s string) string  { return c(colDim, s) }
func good(s string) string { return c(colGreen, s) }
func warn(s string) string { return c(colYellow, s) }
func cyan(s string) string { return c(colCyan, s) }
func mag(s string) string  { return c(colMag, s) }

func section(title string) { fmt.Printf("\n%s %s %s\n", dim("──"), bold(title), dim("──")) }
func sub(title string)     { fmt.Printf("%s %s\n", dim("•"), bold(title)) }

// printLine colours a "Name: line" log entry by side.
func printLine(nameA, line string) {
	name, text, ok := strings.Cut(line, ": ")
	if !ok {
		fmt.Println(line)
		return
	}
	tag := mag(name)
	if name == nameA {
		tag = cyan(name)
	}
	fmt.Printf("%s %s\n", tag, text)
}
