package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/peterh/liner"
	flag "github.com/spf13/pflag"

	"github.com/calvinalkan/rethinkdb-core/internal/namespace"
	"github.com/calvinalkan/rethinkdb-core/internal/query"
	"github.com/calvinalkan/rethinkdb-core/pkg/slab"
)

// runRepl opens a store directly (no network hop) and lets an operator
// hand-type ReQL wire-format JSON terms at a liner-backed prompt.
func runRepl(args []string) int {
	flags := flag.NewFlagSet("repl", flag.ContinueOnError)
	flags.SetOutput(new(strings.Builder))

	flagStore := flags.String("store", "./data", "Store directory")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	storage, err := slab.WithDefaults(*flagStore)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: open store:", err)
		return 1
	}
	defer storage.Close()

	ns, err := namespace.Open(storage)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: open namespace:", err)
		return 1
	}

	exec := query.NewExecutor(ns)
	ec := query.NewEvalContext()

	line := liner.NewLiner()
	defer line.Close()

	line.SetCtrlCAborts(true)

	fmt.Println("rethinkdb-core repl - type a ReQL wire-format JSON term, or 'exit'")

	for {
		input, err := line.Prompt("reql> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return 0
			}

			fmt.Fprintln(os.Stderr, "error:", err)
			return 1
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		line.AppendHistory(input)

		if input == "exit" || input == "quit" {
			return 0
		}

		term, err := query.Compile([]byte(input))
		if err != nil {
			fmt.Fprintln(os.Stderr, "compile error:", err)
			continue
		}

		result, err := exec.Eval(context.Background(), ec, term)
		if err != nil {
			fmt.Fprintln(os.Stderr, "eval error:", err)
			continue
		}

		out, err := result.ToJSON()
		if err != nil {
			fmt.Fprintln(os.Stderr, "encode error:", err)
			continue
		}

		fmt.Println(string(out))
	}
}
