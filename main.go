// Package main is the entry point for the statspipe CLI tool, which turns
// raw XLSX match exports into player rankings and snapshot files.
package main

import "github.com/carnagereport/statspipe/cmd"

func main() {
	cmd.Execute()
}
