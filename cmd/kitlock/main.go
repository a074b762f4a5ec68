package main

import (
	"os"

	"github.com/schmitthub/kitlock/internal/kitlock"
)

func main() {
	os.Exit(kitlock.Main())
}
