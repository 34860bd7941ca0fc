package domain

// Position is the net exposure of one model in one instrument, derived from
// its filled orders. Amount is signed: positive long, negative short. Cost is
// the signed notional paid (buys positive, sells negative).
type Position struct {
	Instrument string  `json:"sym"`
	Venue      string  `json:"venue"`
	ModelID    string  `json:"model_id"`
	Amount     float64 `json:"amount"`
	Cost       float64 `json:"cost"`
	Fills      int     `json:"fills"`
}

// AveragePrice returns Cost/Amount, or 0 for a flat position.
func (p Position) AveragePrice() float64 {
	if p.Amount == 0 {
		return 0
	}
	return p.Cost / p.Amount
}
