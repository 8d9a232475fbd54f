package main

import (
	"os"

	"arena-ai/backend/internal/app"
)

// @title        AI Arena API
// @version      1.0
// @description  Sends one prompt to several LLM providers at once and streams their answers and metrics.
// @BasePath     /api
func main() {
	os.Exit(app.Run())
}
