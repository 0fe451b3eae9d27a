package main

import (
	"os"

	"github.com/rpi-imager/helper/internal/rawwrite"
)

func openSourceFile(path string) (rawwrite.Source, error) {
	return os.Open(path)
}
