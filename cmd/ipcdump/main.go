package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/danmuck/nxipc/internal/protocol/inspect"
	"github.com/danmuck/nxipc/internal/protocol/session"
)

func main() {
	dialect := flag.String("dialect", "cmif", "message dialect: cmif|tipc")
	response := flag.Bool("response", false, "decode as a reply instead of a request")
	domain := flag.Bool("domain", false, "expect cmif domain headers")
	format := flag.String("format", "text", "output format: text|yaml")
	input := flag.String("input", "-", "hex dump to read, - for stdin")
	flag.Parse()

	if err := run(*dialect, *response, *domain, *format, *input, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "ipcdump: %v\n", err)
		os.Exit(1)
	}
}

func run(dialect string, response, domain bool, format, input string, out io.Writer) error {
	d, err := session.ParseDialect(dialect)
	if err != nil {
		return err
	}
	var src []byte
	if input == "-" {
		src, err = io.ReadAll(os.Stdin)
	} else {
		src, err = os.ReadFile(input)
	}
	if err != nil {
		return err
	}
	raw, err := inspect.ParseHex(string(src))
	if err != nil {
		return err
	}
	rep, err := inspect.Decode(raw, inspect.Options{Dialect: d, Response: response, Domain: domain})
	if err != nil {
		return err
	}

	switch format {
	case "text":
		_, err = io.WriteString(out, rep.Text())
	case "yaml":
		var b []byte
		if b, err = rep.YAML(); err == nil {
			_, err = out.Write(b)
		}
	default:
		err = fmt.Errorf("unknown format %q", format)
	}
	return err
}
