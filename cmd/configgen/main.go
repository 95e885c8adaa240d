package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/danmuck/nxipc/internal/config"
)

func main() {
	output := flag.String("output", "nxipc.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "nxipc.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	print := flag.Bool("print", false, "print the template instead of writing it")
	flag.Parse()

	if *validate {
		cfg, err := config.Load(*input)
		if err != nil {
			log.Fatal(err)
		}
		dialect, _ := cfg.SessionDialect()
		log.Printf("Validated config at %s (dialect=%s)", *input, dialect)
		return
	}

	if *print {
		template, err := config.Template(config.DefaultConfig())
		if err != nil {
			log.Fatal(err)
		}
		fmt.Print(template)
		return
	}

	if err := config.WriteTemplate(*output, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote config template to %s", *output)
}
