package main

import (
	"os"

	"github.com/YoshitsuguKoike/asw/internal/interface/cli"
)

func main() {
	os.Exit(cli.Execute())
}
