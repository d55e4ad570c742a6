package main

import (
	"context"
	"log"
	"os"
	"strings"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/app"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	a, err := app.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}
	defer a.Close()

	args := commandArgs(os.Args[1:])
	if err := a.Run(ctx, args); err != nil {
		log.Fatalf("%v", err)
	}
}

// commandArgs strips flag-style arguments, leaving the subcommand and its
// positional arguments. Flags are parsed separately by the config package.
func commandArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 0 && args[i][0] == '-' {
			// Skip the flag's value when given separately. The -flag=value
			// form carries its value inline.
			if !strings.Contains(args[i], "=") &&
				i+1 < len(args) && (len(args[i+1]) == 0 || args[i+1][0] != '-') {
				i++
			}
			continue
		}
		out = append(out, args[i])
	}
	return out
}
