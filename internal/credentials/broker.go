package credentials

// BrokerCredentials are the MQTT username/password pair for the data-plane.
type BrokerCredentials struct {
	Username string
	Password string
}

// Empty reports whether either half is missing.
func (c BrokerCredentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

// DeriveBrokerCredentials builds the broker login from a password-grant
// response: the username is "<clientId>:<clientId>" and the password is the
// client key.
func DeriveBrokerCredentials(resp TokenResponse) (BrokerCredentials, error) {
	if resp.ClientID == "" {
		return BrokerCredentials{}, ErrNoClientID
	}
	return BrokerCredentials{
		Username: resp.ClientID + ":" + resp.ClientID,
		Password: resp.ClientKey,
	}, nil
}

// Resumable is everything needed to pick a session back up without a fresh
// login: the token snapshot plus the broker login derived from it.
type Resumable struct {
	Session Snapshot
	Broker  BrokerCredentials
}

// Valid reports whether r can be resumed. A session needs at least one token
// and a client id, and the broker login must be complete.
func (r Resumable) Valid() bool {
	hasToken := r.Session.AccessToken != "" || r.Session.RefreshToken != ""
	return hasToken && r.Session.ClientID != "" && !r.Broker.Empty()
}
