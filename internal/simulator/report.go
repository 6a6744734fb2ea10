package simulator

import (
	"time"

	"github.com/lox/pitfight/internal/fileutil"
	"github.com/lox/pitfight/internal/statistics"
)

// Report is the machine-readable summary of a run.
type Report struct {
	Hero      string    `json:"hero"`
	Opponent  string    `json:"opponent"`
	Seed      int64     `json:"seed"`
	Matches   int       `json:"matches"`
	Wins      int       `json:"wins"`
	Losses    int       `json:"losses"`
	Draws     int       `json:"draws"`
	Mean      float64   `json:"mean"`
	CILow     float64   `json:"ciLow"`
	CIHigh    float64   `json:"ciHigh"`
	KOs       int       `json:"kos"`
	SideMeans []float64 `json:"sideMeans"`
	Generated time.Time `json:"generated"`
}

// NewReport summarises stats for the run described by config.
func NewReport(config Config, stats *statistics.Statistics, at time.Time) Report {
	low, high := stats.ConfidenceInterval95()
	return Report{
		Hero:      config.Hero,
		Opponent:  config.Opponent,
		Seed:      config.Seed,
		Matches:   stats.Matches,
		Wins:      stats.Wins,
		Losses:    stats.Losses,
		Draws:     stats.Draws,
		Mean:      stats.Mean(),
		CILow:     low,
		CIHigh:    high,
		KOs:       stats.KOs,
		SideMeans: []float64{stats.SideMean(0), stats.SideMean(1)},
		Generated: at,
	}
}

// WriteReport writes the report as JSON without leaving a partial file.
func WriteReport(path string, r Report) error {
	return fileutil.WriteJSON(path, r)
}
