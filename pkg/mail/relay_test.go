package mail

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const relayHost = "relay.test"

// testCert is a self-signed certificate for relayHost. Its PEM is handed to
// the client as certificateAuthority.
type testCert struct {
	tls tls.Certificate
	pem string
}

func newTestCert(t *testing.T) testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: relayHost},
		DNSNames:              []string{relayHost},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	return testCert{tls: pair, pem: string(certPEM)}
}

// fakeRelay is a loopback SMTP relay. DialContext ignores the requested
// address so configs can use relayHost as the certificate name.
type fakeRelay struct {
	ln          net.Listener
	cert        testCert
	implicitTLS bool
	startTLS    bool
	authMechs   string
	username    string
	password    string
	// rcptReply overrides the RCPT response, e.g. "550 5.1.1 no such user".
	rcptReply string
	// authReply overrides the AUTH response, e.g. "454 4.7.0 try later".
	authReply string
	// silent relays never send a greeting.
	silent bool

	dials    atomic.Int32
	mu       sync.Mutex
	messages []string
	wg       sync.WaitGroup
}

func newFakeRelay(t *testing.T, opts ...func(*fakeRelay)) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	r := &fakeRelay{
		ln:        ln,
		cert:      newTestCert(t),
		startTLS:  true,
		authMechs: "PLAIN LOGIN",
		username:  "relay-user",
		password:  "hunter2",
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.acceptLoop()
	t.Cleanup(func() {
		_ = ln.Close()
		r.wg.Wait()
	})
	return r
}

func (r *fakeRelay) acceptLoop() {
	defer r.wg.Done()
	for {
		conn, err := r.ln.Accept()
		if err != nil {
			return
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.serve(conn)
		}()
	}
}

func (r *fakeRelay) DialContext(ctx context.Context, network, _ string) (net.Conn, error) {
	r.dials.Add(1)
	var d net.Dialer
	return d.DialContext(ctx, network, r.ln.Addr().String())
}

func (r *fakeRelay) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *fakeRelay) serve(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(10 * time.Second))

	tlsConfig := &tls.Config{Certificates: []tls.Certificate{r.cert.tls}}
	secure := false
	if r.implicitTLS {
		tc := tls.Server(conn, tlsConfig)
		if err := tc.Handshake(); err != nil {
			return
		}
		conn, secure = tc, true
	}
	if r.silent {
		buf := make([]byte, 1)
		_, _ = conn.Read(buf)
		return
	}

	rd := bufio.NewReader(conn)
	reply := func(format string, args ...any) {
		fmt.Fprintf(conn, format+"\r\n", args...)
	}
	readLine := func() (string, bool) {
		line, err := rd.ReadString('\n')
		if err != nil {
			return "", false
		}
		return strings.TrimRight(line, "\r\n"), true
	}

	reply("220 %s ESMTP ready", relayHost)
	for {
		line, ok := readLine()
		if !ok {
			return
		}
		verb, arg, _ := strings.Cut(line, " ")
		switch strings.ToUpper(verb) {
		case "EHLO":
			ext := []string{relayHost}
			if r.startTLS && !secure {
				ext = append(ext, "STARTTLS")
			}
			if secure && r.authMechs != "" {
				ext = append(ext, "AUTH "+r.authMechs)
			}
			for i, e := range ext {
				sep := "-"
				if i == len(ext)-1 {
					sep = " "
				}
				reply("250%s%s", sep, e)
			}
		case "HELO", "NOOP", "RSET":
			reply("250 OK")
		case "STARTTLS":
			reply("220 2.0.0 ready to start TLS")
			tc := tls.Server(conn, tlsConfig)
			if err := tc.Handshake(); err != nil {
				return
			}
			conn, secure = tc, true
			rd = bufio.NewReader(conn)
		case "AUTH":
			if r.authReply != "" {
				reply("%s", r.authReply)
			} else if r.checkAuth(arg, reply, readLine) {
				reply("235 2.7.0 Authentication successful")
			} else {
				reply("535 5.7.8 Authentication credentials invalid")
			}
		case "MAIL":
			reply("250 2.1.0 OK")
		case "RCPT":
			if r.rcptReply != "" {
				reply("%s", r.rcptReply)
			} else {
				reply("250 2.1.5 OK")
			}
		case "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var b strings.Builder
			for {
				dline, ok := readLine()
				if !ok {
					return
				}
				if dline == "." {
					break
				}
				b.WriteString(dline)
				b.WriteString("\n")
			}
			r.mu.Lock()
			r.messages = append(r.messages, b.String())
			r.mu.Unlock()
			reply("250 2.0.0 OK: queued")
		case "QUIT":
			reply("221 2.0.0 Bye")
			return
		default:
			reply("502 5.5.2 command not recognized")
		}
	}
}

func (r *fakeRelay) checkAuth(arg string, reply func(string, ...any), readLine func() (string, bool)) bool {
	mech, initial, _ := strings.Cut(arg, " ")
	switch strings.ToUpper(mech) {
	case "PLAIN":
		raw, err := base64.StdEncoding.DecodeString(initial)
		if err != nil {
			return false
		}
		parts := strings.Split(string(raw), "\x00")
		return len(parts) == 3 && parts[1] == r.username && parts[2] == r.password
	case "LOGIN":
		reply("334 %s", base64.StdEncoding.EncodeToString([]byte("Username:")))
		user, ok := readLine()
		if !ok {
			return false
		}
		reply("334 %s", base64.StdEncoding.EncodeToString([]byte("Password:")))
		pass, ok := readLine()
		if !ok {
			return false
		}
		u, _ := base64.StdEncoding.DecodeString(user)
		p, _ := base64.StdEncoding.DecodeString(pass)
		return string(u) == r.username && string(p) == r.password
	}
	return false
}
