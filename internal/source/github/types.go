package github

import "time"

// Thread is one entry of GET /notifications.
type Thread struct {
	ID         string     `json:"id"`
	Unread     bool       `json:"unread"`
	Reason     string     `json:"reason"`
	UpdatedAt  time.Time  `json:"updated_at"`
	Subject    Subject    `json:"subject"`
	Repository Repository `json:"repository"`
}

// Subject is the item a notification thread is about.
type Subject struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Type  string `json:"type"`
}

// Repository identifies the repository of a thread.
type Repository struct {
	FullName string `json:"full_name"`
	HTMLURL  string `json:"html_url"`
}

// User is the response from GET /user.
type User struct {
	Login string `json:"login"`
	Name  string `json:"name"`
}

// ErrorResponse is the standard GitHub error body.
type ErrorResponse struct {
	Message string `json:"message"`
}
