package main

import (
	"chat-relay/repositories"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
)

// inspect prints the read state stored in a relay badger directory.
// The relay must be stopped: badger holds an exclusive lock on its directory.
func main() {
	dbPath := flag.String("db", "./data/badger", "Path to badger DB")
	prefix := flag.String("prefix", "", "Message id prefix to scan")
	limit := flag.Int("limit", 100, "Maximum number of records, 0 for all")
	flag.Parse()

	db, err := badger.Open(badger.DefaultOptions(*dbPath).WithReadOnly(true).WithLoggingLevel(badger.ERROR))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	repository := repositories.NewBadgerMessageStatusRepository(db, logs.GetLoggerFromString("ERROR"))
	records, err := repository.ListStatuses(*prefix, *limit)
	if err != nil {
		log.Fatal("Error while scanning statuses: ", err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Message ID", "Status", "Updated At"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	for _, record := range records {
		table.Append([]string{record.MessageID, colorStatus(record.Status), record.UpdatedAt.Format(time.RFC3339)})
	}
	table.Render()
	fmt.Printf("\n%d record(s)\n", len(records))
}

func colorStatus(status repositories.MessageStatus) string {
	switch status {
	case repositories.StatusRead:
		return color.FgGreen.Render(status.String())
	case repositories.StatusDelivered:
		return color.FgCyan.Render(status.String())
	case repositories.StatusSent:
		return color.FgYellow.Render(status.String())
	default:
		return color.FgRed.Render(status.String())
	}
}
