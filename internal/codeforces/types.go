package codeforces

import "encoding/json"

// Wire types of the Codeforces API (https://codeforces.com/apiHelp/objects).

type envelope struct {
	Status  string          `json:"status"`
	Comment string          `json:"comment,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

type Contest struct {
	ID                  int64  `json:"id"`
	Name                string `json:"name"`
	Type                string `json:"type"`
	Phase               string `json:"phase"`
	Frozen              bool   `json:"frozen"`
	DurationSeconds     int64  `json:"durationSeconds"`
	StartTimeSeconds    *int64 `json:"startTimeSeconds,omitempty"`
	RelativeTimeSeconds *int64 `json:"relativeTimeSeconds,omitempty"`
}

type Problem struct {
	ContestID int64    `json:"contestId"`
	Index     string   `json:"index"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Points    *float64 `json:"points,omitempty"`
	Rating    int      `json:"rating,omitempty"`
	Tags      []string `json:"tags,omitempty"`
}

type Member struct {
	Handle string `json:"handle"`
	Name   string `json:"name,omitempty"`
}

type Party struct {
	ContestID       int64    `json:"contestId"`
	Members         []Member `json:"members"`
	ParticipantType string   `json:"participantType"`
	TeamName        string   `json:"teamName,omitempty"`
	Ghost           bool     `json:"ghost"`
}

type ProblemResult struct {
	Points                    float64 `json:"points"`
	Penalty                   int     `json:"penalty"`
	RejectedAttemptCount      int     `json:"rejectedAttemptCount"`
	Type                      string  `json:"type"`
	BestSubmissionTimeSeconds *int64  `json:"bestSubmissionTimeSeconds,omitempty"`
}

type RanklistRow struct {
	Party                 Party           `json:"party"`
	Rank                  int             `json:"rank"`
	Points                float64         `json:"points"`
	Penalty               int             `json:"penalty"`
	SuccessfulHackCount   int             `json:"successfulHackCount"`
	UnsuccessfulHackCount int             `json:"unsuccessfulHackCount"`
	ProblemResults        []ProblemResult `json:"problemResults"`
}

type Standings struct {
	Contest  Contest       `json:"contest"`
	Problems []Problem     `json:"problems"`
	Rows     []RanklistRow `json:"rows"`
}

type User struct {
	Handle    string `json:"handle"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	Rating    int    `json:"rating,omitempty"`
	MaxRating int    `json:"maxRating,omitempty"`
	Rank      string `json:"rank,omitempty"`
}
