package main

import (
	"github.com/Bluehatcoders/jam/cmd"
	"github.com/Bluehatcoders/jam/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
