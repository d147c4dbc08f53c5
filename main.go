package main

import (
	"os"

	"github.com/CBIIT/nci-user-registration/app"
)

func main() {
	err := app.Execute()
	if err != nil {
		os.Exit(1)
	}
}
