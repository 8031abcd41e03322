package main

import (
	"flag"
	"log"

	"github.com/danmuck/rollcall/internal/config"
)

func main() {
	output := flag.String("output", "rollcall.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "rollcall.toml", "config path for validation")
	envFile := flag.String("env-file", "", "optional dotenv file applied during validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if _, err := config.Load(config.LoadOptions{Path: *input, EnvFile: *envFile}); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated rollcall config at %s", *input)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote rollcall config template to %s", *output)
}
