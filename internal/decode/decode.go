// Package decode turns exported delimited-text files into typed readings.
//
// Decoding never fails: rows that cannot be parsed are dropped and an empty
// or header-only file yields no readings.
package decode

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/chmdznr/biosync/pkg/models"
)

// SourceLayout is the timestamp format used by exported files
const SourceLayout = "2006.01.02 15:04:05"

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decoder decodes exports whose wall-clock timestamps are in loc
type Decoder struct {
	loc *time.Location
}

// New creates a decoder for exports written in loc; nil means UTC
func New(loc *time.Location) *Decoder {
	if loc == nil {
		loc = time.UTC
	}
	return &Decoder{loc: loc}
}

var defaultDecoder = New(time.UTC)

// Decode decodes raw with the default UTC decoder
func Decode(rule Rule, raw []byte) []models.Reading {
	return defaultDecoder.Decode(rule, raw)
}

func HeartRate(raw []byte) []models.Reading { return Decode(rules[models.HeartRateCategory], raw) }
func Steps(raw []byte) []models.Reading     { return Decode(rules[models.StepsCategory], raw) }
func Stress(raw []byte) []models.Reading    { return Decode(rules[models.StressCategory], raw) }
func Sleep(raw []byte) []models.Reading     { return Decode(rules[models.SleepCategory], raw) }

// Decode parses raw according to rule
func (d *Decoder) Decode(rule Rule, raw []byte) []models.Reading {
	rows := readRows(raw)
	if rule.Aggregate {
		if s, ok := d.sleepSession(rule, rows); ok {
			return []models.Reading{s}
		}
		return []models.Reading{}
	}

	readings := make([]models.Reading, 0, len(rows))
	for _, row := range rows {
		if len(row) < rule.MinFields {
			continue
		}
		ts, ok := d.timestamp(row[rule.Time])
		if !ok {
			continue
		}
		if r, ok := rowReading(rule, ts, row); ok {
			readings = append(readings, r)
		}
	}
	return readings
}

// readRows returns every data row, skipping the header line
func readRows(raw []byte) [][]string {
	raw = bytes.TrimPrefix(raw, utf8BOM)

	reader := csv.NewReader(bytes.NewReader(raw))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var rows [][]string
	header := true
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				header = false
				continue
			}
			break
		}
		if header {
			header = false
			continue
		}
		rows = append(rows, record)
	}
	return rows
}

func (d *Decoder) timestamp(field string) (string, bool) {
	t, err := time.ParseInLocation(SourceLayout, strings.TrimSpace(field), d.loc)
	if err != nil {
		return "", false
	}
	return models.FormatTimestamp(t), true
}

func rowReading(rule Rule, ts string, row []string) (models.Reading, bool) {
	switch rule.Category {
	case models.HeartRateCategory:
		bpm, err := strconv.Atoi(strings.TrimSpace(row[rule.Value]))
		if err != nil {
			return nil, false
		}
		return models.HeartRate{Timestamp: ts, BPM: bpm}, true

	case models.StepsCategory:
		count, err := strconv.Atoi(strings.TrimSpace(row[rule.Value]))
		if err != nil {
			return nil, false
		}
		return models.Steps{
			Timestamp: ts,
			Count:     count,
			Distance:  optionalFloat(row, rule.Aux1),
			Calories:  optionalFloat(row, rule.Aux2),
		}, true

	case models.StressCategory:
		level, err := strconv.ParseFloat(strings.TrimSpace(row[rule.Value]), 64)
		if err != nil || math.IsNaN(level) || math.IsInf(level, 0) {
			return nil, false
		}
		return models.Stress{Timestamp: ts, Level: level, Label: optionalString(row, rule.Aux1)}, true
	}
	return nil, false
}

// sleepBuckets is the order stage totals are rounded in. Anything that is
// not a known stage lands in the trailing "" bucket.
var sleepBuckets = []string{"awake", "light", "deep", "rem", ""}

// sleepSession folds every valid row into one session. Seconds are summed
// per stage first, then each stage gets the difference between consecutive
// cumulative boundaries rounded half to even, so stages add up to the total.
func (d *Decoder) sleepSession(rule Rule, rows [][]string) (models.Sleep, bool) {
	var (
		start, end string
		valid      int
		seconds    = make(map[string]float64, len(sleepBuckets))
	)
	for _, row := range rows {
		if len(row) < rule.MinFields {
			continue
		}
		ts, ok := d.timestamp(row[rule.Time])
		if !ok {
			continue
		}
		secs, err := strconv.ParseFloat(strings.TrimSpace(row[rule.Value]), 64)
		if err != nil || secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			continue
		}
		if valid == 0 {
			start = ts
		}
		end = ts
		valid++

		stage := strings.ToLower(optionalString(row, rule.Aux1))
		if !slices.Contains(sleepBuckets, stage) {
			stage = ""
		}
		seconds[stage] += secs
	}
	if valid < 2 {
		return models.Sleep{}, false
	}

	var (
		cumulative float64
		boundary   int
		minutes    = make(map[string]int, len(sleepBuckets))
	)
	for _, stage := range sleepBuckets {
		cumulative += seconds[stage]
		next := int(math.RoundToEven(cumulative / 60))
		minutes[stage] = next - boundary
		boundary = next
	}

	return models.Sleep{
		Timestamp:    end,
		Start:        start,
		End:          end,
		TotalMinutes: boundary,
		Stages: &models.SleepStages{
			Awake: minutes["awake"],
			Light: minutes["light"],
			Deep:  minutes["deep"],
			REM:   minutes["rem"],
		},
	}, true
}

func optionalString(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func optionalFloat(row []string, idx int) *float64 {
	s := optionalString(row, idx)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
