package main

import (
	"fmt"
	"os"

	"github.com/illuscio-dev/spanrest-go/cmd/spanrest/app"
)

func main() {
	if err := app.NewRootCommandeer().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}
