package model

import "time"

// RateWindow is the burst-protection state of one raw identifier.
type RateWindow struct {
	Identifier  string    `json:"identifier"`
	Start       time.Time `json:"start"`
	Count       int       `json:"count"`
	LastRequest time.Time `json:"last_request"`
}
