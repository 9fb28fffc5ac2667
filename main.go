package main

import (
	"errors"
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)

		if errors.Is(err, errPassIncomplete) {
			os.Exit(exitPassIncomplete)
		}

		os.Exit(1)
	}
}
