package main

import (
	"github.com/amozeshoparvaresheIT/manar-chat/internal/cmd"
	"github.com/amozeshoparvaresheIT/manar-chat/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
