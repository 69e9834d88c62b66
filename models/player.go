package models

import "time"

// Player represents a tracked player in the team optimizer roster
type Player struct {
	Name          string    `json:"name" db:"name"`
	SummonerName  string    `json:"summoner_name" db:"summoner_name"`
	TagLine       string    `json:"tag_line" db:"tag_line"`
	Region        string    `json:"region" db:"region"`
	PrimaryRole   string    `json:"primary_role" db:"primary_role"`
	SecondaryRole string    `json:"secondary_role" db:"secondary_role"`
	Tier          string    `json:"tier" db:"tier"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}
