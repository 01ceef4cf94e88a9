package fs

import (
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
)

// PrintListing renders entries as a table for console diagnostics.
func PrintListing(w io.Writer, entries []DirEntry) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Type", "Name", "Size", "Bytes"})
	table.SetBorder(false)
	table.SetAutoWrapText(false)

	for _, e := range entries {
		size, raw := "", ""
		if e.Type == EntryFile {
			size = humanize.IBytes(uint64(e.Size))
			raw = strconv.FormatInt(e.Size, 10)
		}
		table.Append([]string{e.Type.String(), e.Name, size, raw})
	}

	table.Render()
}
