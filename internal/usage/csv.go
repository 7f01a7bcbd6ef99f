package usage

import (
	"encoding/csv"
	"io"
	"strconv"
	"time"
)

// WriteCSV writes the series as "bucket,total" rows with a header.
func WriteCSV(w io.Writer, buckets []Bucket) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"bucket", "total"}); err != nil {
		return err
	}
	for _, b := range buckets {
		if err := cw.Write([]string{b.Bucket.UTC().Format(time.RFC3339), strconv.Itoa(b.Total)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// CSVFilename is the download name for a platform's series.
func CSVFilename(platform string, w Window) string {
	return platform + "_usage_" + w.Name + ".csv"
}
