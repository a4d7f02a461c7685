package config

import (
	"flag"
	"os"

	"github.com/joho/godotenv"
)

const defaultBackendURL = "http://localhost:8000"

var (
	Dev             bool
	LogPath         string
	BackendURL      string
	SileroModelPath string
)

func Init() {
	flag.BoolVar(&Dev, "dev", false, "Development mode")
	flag.StringVar(&LogPath, "logPath", "", "Path to save the log file")
	flag.Parse()

	godotenv.Load()

	BackendURL = os.Getenv("BACKEND_URL")
	if BackendURL == "" {
		BackendURL = defaultBackendURL
	}

	// Live dictation is disabled when the VAD model is not on disk.
	SileroModelPath = os.Getenv("SILERO_MODEL_PATH")
}
