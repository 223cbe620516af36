package strategy

import (
	"strings"
	"time"
)

// SignalSet is the set of boolean signals that fired on one bar.
type SignalSet uint8

const (
	LongEntry SignalSet = 1 << iota
	LongExit
	ShortEntry
	ShortExit

	None SignalSet = 0
)

// signalNames keeps the reporting order stable.
var signalNames = []struct {
	flag SignalSet
	name string
}{
	{LongEntry, "long_entry"},
	{LongExit, "long_exit"},
	{ShortEntry, "short_entry"},
	{ShortExit, "short_exit"},
}

const (
	noSignalText = "No active signal."
	detectedText = "Signal detected: "
)

// Has reports whether any of the flags in s are set.
func (s SignalSet) Has(flags SignalSet) bool { return s&flags != 0 }

// IsEntry is true for a long breakout or a short-exit reversal.
func (s SignalSet) IsEntry() bool { return s.Has(LongEntry | ShortExit) }

// IsExit is true for a long exit or a short-entry breakdown.
func (s SignalSet) IsExit() bool { return s.Has(LongExit | ShortEntry) }

// Names lists the set signals in reporting order.
func (s SignalSet) Names() []string {
	var names []string
	for _, sn := range signalNames {
		if s.Has(sn.flag) {
			names = append(names, sn.name)
		}
	}
	return names
}

// String renders the "Signal detected: a, b" / "No active signal." text.
func (s SignalSet) String() string {
	names := s.Names()
	if len(names) == 0 {
		return noSignalText
	}
	return detectedText + strings.Join(names, ", ")
}

// ParseSignalSet accepts the rendered text or a bare comma separated list.
// Unknown names are ignored.
func ParseSignalSet(text string) SignalSet {
	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), detectedText))
	var s SignalSet
	for _, part := range strings.Split(text, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		for _, sn := range signalNames {
			if part == sn.name {
				s |= sn.flag
			}
		}
	}
	return s
}

// MarshalText lets SignalSet travel as its rendered text in JSON.
func (s SignalSet) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Status summarizes a signal series: the newest bar and the newest bar that
// had any signal.
type Status struct {
	Latest       SignalSet  `json:"latest"`
	LastTrue     SignalSet  `json:"lastTrue"`
	LastTrueTime *time.Time `json:"lastTrueTime,omitempty"`
}

// DetermineStatus scans rows (oldest first) from the end.
func DetermineStatus(rows []Row) Status {
	var st Status
	if len(rows) == 0 {
		return st
	}
	st.Latest = rows[len(rows)-1].Signals
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].Signals != None {
			st.LastTrue = rows[i].Signals
			ts := rows[i].Time
			st.LastTrueTime = &ts
			break
		}
	}
	return st
}
