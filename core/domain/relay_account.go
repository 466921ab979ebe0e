package domain

// AuthMethod is how a mailbox account authenticates to its IMAP server.
type AuthMethod string

const (
	AuthPassword AuthMethod = "password"
	AuthOAuth2   AuthMethod = "oauth2"
)

// Account is one monitored mailbox. Password accounts log in with an app
// password; oauth2 accounts exchange a stored refresh token for an access
// token at fetch time.
type Account struct {
	Email        string     `json:"email"`
	Username     string     `json:"username,omitempty"`
	Password     string     `json:"password,omitempty"`
	IMAPServer   string     `json:"imap_server"`
	IMAPPort     int        `json:"imap_port"`
	AuthMethod   AuthMethod `json:"auth_method"`
	RefreshToken string     `json:"refresh_token,omitempty"`
}

// LoginName returns the IMAP login identity, defaulting to the address.
func (a Account) LoginName() string {
	if a.Username != "" {
		return a.Username
	}
	return a.Email
}
