package main

import (
	"os"

	"github.com/complyio/complyio/cmd"
)

func main() {
	code := cmd.Execute()
	os.Exit(code)
}
