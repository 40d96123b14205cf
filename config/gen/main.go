package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/brensch/teamassistant/config"
)

func main() {
	out := flag.String("out", "./settings.ini", "where to write the settings template")
	flag.Parse()

	slog.Info("generating settings template", "path", *out)

	tmpl, err := config.Template()
	if err != nil {
		slog.Error("failed to render settings template", "err", err)
		os.Exit(1)
	}

	err = os.WriteFile(*out, tmpl, 0644)
	if err != nil {
		slog.Error("failed to write settings template to file", "err", err)
		os.Exit(1)
	}
}
