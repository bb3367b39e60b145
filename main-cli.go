//go:build !windows || dev

package main

import "github.com/bartek5186/stocksync/cmd"

func main() {
	cmd.Execute()
}
