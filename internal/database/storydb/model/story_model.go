package model

import "time"

// Record is one finished story as kept for the historical record.
type Record struct {
	ID           string    `json:"id"`
	Theme        string    `json:"theme"`
	Narrator     string    `json:"narrator"`
	Participants []string  `json:"participants"`
	Segments     []string  `json:"segments"`
	FinishedAt   time.Time `json:"finishedAt"`
}
