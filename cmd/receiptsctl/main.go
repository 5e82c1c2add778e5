package main

import "github.com/joseph-ayodele/receipts-pipeline/internal/cli"

func main() {
	cli.Execute()
}
