package models

// Instrument is one market-data row as broadcast to subscribers.
// A snapshot is the full list of instruments produced by a single
// upstream fetch; instruments are immutable once produced.
type Instrument struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Change24h float64 `json:"change_24h"`
}

// IndexSnapshot builds an id -> instrument lookup for one snapshot.
// Later duplicates win, matching upstream ordering.
func IndexSnapshot(snapshot []Instrument) map[string]Instrument {
	index := make(map[string]Instrument, len(snapshot))
	for _, inst := range snapshot {
		index[inst.ID] = inst
	}
	return index
}
