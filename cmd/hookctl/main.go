package main

import (
	"log"

	"github.com/why-aditi/webhook-delivery-service/cmd/hookctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
