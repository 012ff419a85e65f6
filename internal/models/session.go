package models

// User is the signed-in attendee.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role,omitempty"`
}

// AuthSession describes the current identity.
type AuthSession struct {
	User            *User  `json:"user,omitempty"`
	Token           string `json:"token,omitempty"`
	IsAuthenticated bool   `json:"is_authenticated"`
	IsInitialized   bool   `json:"is_initialized"`
	Message         string `json:"message,omitempty"`
}

// PersistedSession is the subset of AuthSession written to storage.
type PersistedSession struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}

// Credentials are exchanged for a session token.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse is returned by the backend login endpoint.
type LoginResponse struct {
	User  *User  `json:"user"`
	Token string `json:"token"`
}
