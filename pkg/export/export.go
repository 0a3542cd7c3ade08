// Package export renders plan rosters for downstream dispatch tools.
package export

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/kilianp07/roster/core/forecast"
	"github.com/kilianp07/roster/core/model"
)

// Header is the column order of WriteCSV.
var Header = []string{
	"driver_id", "driver_class", "date", "day", "block_id", "role",
	"tour", "start", "end", "minutes",
}

// Sort orders assignments by driver, day and start time.
func Sort(as []model.Assignment) {
	sort.SliceStable(as, func(i, j int) bool {
		a, b := as[i], as[j]
		if a.DriverID != b.DriverID {
			return a.DriverID < b.DriverID
		}
		if a.Day != b.Day {
			return a.Day < b.Day
		}
		if a.StartMin != b.StartMin {
			return a.StartMin < b.StartMin
		}
		return a.Tour.Less(b.Tour)
	})
}

// WriteJSON writes the roster to w in JSON format.
func WriteJSON(w io.Writer, as []model.Assignment) error {
	out := append([]model.Assignment(nil), as...)
	Sort(out)
	if out == nil {
		out = []model.Assignment{}
	}
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

// WriteCSV writes the roster to w in CSV format. The date column is derived
// from weekAnchor, the Monday of the planned week; it stays empty when the
// anchor is zero.
func WriteCSV(w io.Writer, weekAnchor time.Time, as []model.Assignment) error {
	out := append([]model.Assignment(nil), as...)
	Sort(out)
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for _, a := range out {
		date := ""
		if !weekAnchor.IsZero() {
			date = weekAnchor.AddDate(0, 0, a.Day-1).Format(time.DateOnly)
		}
		rec := []string{
			a.DriverID,
			a.DriverClass.String(),
			date,
			forecast.DayLabel(a.Day),
			a.BlockID,
			a.Role.String(),
			a.Tour.String(),
			model.FormatClock(a.StartMin),
			model.FormatClock(a.EndMin),
			strconv.Itoa(a.EndMin - a.StartMin),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
