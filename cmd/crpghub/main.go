package main

import (
	"log"

	"github.com/Marco-Polo-coding/TFG-Jose-Abreu/cmd/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
