// Package feed replays recorded bars into the engine.
package feed

import (
	"bufio"
	"context"
	"io"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"

	"github.com/evdnx/goguard/types"
)

// barRecord is one JSON line of a replay file.
type barRecord struct {
	Instrument string    `json:"instrument"`
	Time       time.Time `json:"time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     float64   `json:"volume"`
	// Spread is added to Close to build the ask of the synthetic quote.
	Spread float64 `json:"spread"`
}

// Tick is a closed bar and the quote it leaves the book at.
type Tick struct {
	Bar   types.Bar
	Quote types.Quote
}

// Replay decodes one bar per line from r and calls fn for each, in file
// order. Blank lines and lines starting with '#' are skipped.
func Replay(ctx context.Context, r io.Reader, fn func(Tick) error) (int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	n, line := 0, 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var rec barRecord
		if err := sonic.UnmarshalString(text, &rec); err != nil {
			return n, errors.Wrapf(err, "line %d", line)
		}
		if rec.Instrument == "" || rec.Close <= 0 {
			return n, errors.Errorf("line %d: instrument and close are required", line)
		}
		if err := fn(rec.tick()); err != nil {
			return n, err
		}
		n++
	}
	return n, errors.Wrap(sc.Err(), "scan replay")
}

func (r barRecord) tick() Tick {
	high, low, open := r.High, r.Low, r.Open
	if open == 0 {
		open = r.Close
	}
	if high == 0 {
		high = max(open, r.Close)
	}
	if low == 0 {
		low = min(open, r.Close)
	}
	return Tick{
		Bar: types.Bar{
			InstrumentID: r.Instrument,
			Open:         open,
			High:         high,
			Low:          low,
			Close:        r.Close,
			Volume:       r.Volume,
			Time:         r.Time,
		},
		Quote: types.Quote{
			InstrumentID: r.Instrument,
			Bid:          r.Close,
			Ask:          r.Close + r.Spread,
			Time:         r.Time,
		},
	}
}
