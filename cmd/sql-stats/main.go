// Command sql-stats prints the recorder SQL used by the recorder source,
// with the configured entity ids filled in, for running by hand in the
// Home Assistant SQLite console.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"energyflow/internal/config"
	"energyflow/internal/recorder"
)

func main() {
	configPath := flag.String("config", "energyflow.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	roles, _ := cfg.Roles()
	ids := roles.PrimaryIDs()
	if len(ids) == 0 {
		log.Fatal("No entities configured")
	}

	fmt.Fprint(os.Stdout, render(ids))
}

func quote(id string) string {
	return "'" + strings.ReplaceAll(id, "'", "''") + "'"
}

func render(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = quote(id)
	}

	var b strings.Builder
	b.WriteString("-- Long-term statistics (hourly, bind start_ts range as unix seconds)\n")
	b.WriteString(fmt.Sprintf(recorder.StatisticsQuery, "\n  "+strings.Join(quoted, "\n  ,")+"\n"))
	b.WriteString(";\n")

	for _, id := range ids {
		b.WriteString("\n-- Latest state of " + id + "\n")
		b.WriteString(strings.Replace(recorder.StateQuery, "?", quote(id), 1))
		b.WriteString(";\n")
	}
	return b.String()
}
