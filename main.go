package main

import (
	"log"

	"github.com/thiagokokada/gitk-web/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("gitk-web: %v", err)
	}
}
