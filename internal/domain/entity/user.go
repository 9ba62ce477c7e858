package entity

import "time"

// User carries the display data sessions and messages resolve by id. Sessions
// and messages store participant/sender ids only, never user back-references.
type User struct {
	ID        string    `json:"id" firestore:"id"`
	Username  string    `json:"username" firestore:"username"`
	Email     string    `json:"email" firestore:"email"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
}
