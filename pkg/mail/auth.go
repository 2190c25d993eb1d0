package mail

import (
	"errors"
	"fmt"
	"net/smtp"
	"slices"
	"strings"
)

// loginAuth implements the LOGIN mechanism for relays that do not offer PLAIN.
// Like smtp.PlainAuth it refuses to send credentials without TLS.
type loginAuth struct {
	username string
	password string
	host     string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS {
		return "", nil, errors.New("unencrypted connection")
	}
	if server.Name != a.host {
		return "", nil, errors.New("wrong host name")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch strings.ToLower(strings.TrimSpace(string(fromServer))) {
	case "username:":
		return []byte(a.username), nil
	case "password:":
		return []byte(a.password), nil
	}
	return nil, fmt.Errorf("unexpected LOGIN challenge %q", fromServer)
}

// chooseAuth picks PLAIN when offered, LOGIN otherwise. It returns nil when
// the relay advertises neither.
func chooseAuth(advertised, username, password, host string) smtp.Auth {
	mechs := strings.Fields(strings.ToUpper(advertised))
	switch {
	case slices.Contains(mechs, "PLAIN"):
		return smtp.PlainAuth("", username, password, host)
	case slices.Contains(mechs, "LOGIN"):
		return &loginAuth{username: username, password: password, host: host}
	}
	return nil
}
