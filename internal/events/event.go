// Package events carries account lifecycle facts between services over a
// durable topic exchange. Delivery is at-least-once; consumers apply facts
// as idempotent upserts keyed by account id.
package events

// Exchange and routing key shared by publisher and consumer.
const (
	Exchange          = "user"
	UserCreatedKey    = "user.created"
	retryCountHeader  = "x-retry"
	defaultMaxRetries = 3
)

// UserCreated is the immutable fact emitted once per verified account (or
// per first successful third-party sign-in).
type UserCreated struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Surname  string `json:"surname"`
	Username string `json:"username"`
	IsBanned bool   `json:"isBanned"`
}
