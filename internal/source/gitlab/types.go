package gitlab

import "time"

// Todo is one entry of GET /api/v4/todos.
type Todo struct {
	ID         int64     `json:"id"`
	ActionName string    `json:"action_name"`
	TargetType string    `json:"target_type"`
	TargetURL  string    `json:"target_url"`
	Body       string    `json:"body"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Project    *Project  `json:"project"`
	Author     Author    `json:"author"`
	Target     Target    `json:"target"`
}

// Project identifies the project a todo belongs to. Group-level todos
// have none.
type Project struct {
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

// Author is the user whose action created the todo.
type Author struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

// Target is the issue, merge request or other item a todo is about.
type Target struct {
	IID   int64  `json:"iid"`
	Title string `json:"title"`
}

// User is the response from GET /api/v4/user.
type User struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}

// ErrorResponse is the GitLab error body. message is a string or an
// object depending on the endpoint.
type ErrorResponse struct {
	Message any    `json:"message"`
	Error   string `json:"error"`
}
