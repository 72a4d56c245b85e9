package attendance

import (
	"encoding/csv"
	"fmt"
	"io"
	"text/tabwriter"

	"joinrecs/internal/daywindow"
	"joinrecs/internal/roster"
)

var printHeader = []string{"이름", "전화번호", "상태", "시간"}

// PrintLabel is the printed status of a record.
func PrintLabel(rec DisplayRecord) string {
	if rec.StatusLabel == StatusGuest {
		return roster.StatusGuestTagged.Label()
	}
	return roster.Status(rec.StatusLabel).Label()
}

func printRow(rec DisplayRecord, w daywindow.Window) []string {
	return []string{
		rec.Name,
		roster.FormatPhone(rec.Phone),
		PrintLabel(rec),
		rec.RecordTime.In(w.Location()).Format("15:04"),
	}
}

// WriteCSV writes the printable daily log as CSV, preceded by a title row.
func WriteCSV(out io.Writer, w daywindow.Window, records []DisplayRecord) error {
	cw := csv.NewWriter(out)
	if err := cw.Write([]string{"출석부 " + w.Date()}); err != nil {
		return err
	}
	if err := cw.Write(printHeader); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write(printRow(rec, w)); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTable writes the printable daily log as aligned text.
func WriteTable(out io.Writer, w daywindow.Window, records []DisplayRecord) error {
	if _, err := fmt.Fprintf(out, "출석부 %s (%d)\n\n", w.Date(), len(records)); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", printHeader[0], printHeader[1], printHeader[2], printHeader[3])
	for _, rec := range records {
		row := printRow(rec, w)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", row[0], row[1], row[2], row[3])
	}
	return tw.Flush()
}
