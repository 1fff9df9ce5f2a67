// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package engine

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/gopcua/opcua/uatest"
	"go.uber.org/zap"
)

const (
	// DefaultSessionTimeout is requested from the server when Options.SessionTimeout is zero.
	DefaultSessionTimeout = 60 * time.Second
	// DefaultKeepAliveInterval is the heartbeat period when Options.KeepAliveInterval is zero.
	DefaultKeepAliveInterval = 5 * time.Second

	certValidity = 10 * 365 * 24 * time.Hour
)

// Options configure the gopcua backed Dialer.
type Options struct {
	Endpoint        string
	ApplicationName string

	// UseSecurity prefers the most secure endpoint the server offers.
	UseSecurity bool
	// AcceptUntrusted skips server certificate pinning on secured endpoints.
	AcceptUntrusted bool
	// ServerCertificateFingerprint is the SHA3-512 hex fingerprint expected on secured endpoints.
	ServerCertificateFingerprint string

	Username string
	Password string

	SessionTimeout    time.Duration
	RequestTimeout    time.Duration
	KeepAliveInterval time.Duration
}

type gopcuaDialer struct {
	opts Options
	log  *zap.SugaredLogger

	certMu sync.Mutex
	cert   *tls.Certificate
}

// NewDialer returns a Dialer that opens gopcua sessions against opts.Endpoint.
func NewDialer(opts Options, log *zap.SugaredLogger) Dialer {
	if opts.SessionTimeout <= 0 {
		opts.SessionTimeout = DefaultSessionTimeout
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &gopcuaDialer{opts: opts, log: log}
}

func (d *gopcuaDialer) Dial(ctx context.Context, params DialParams) (Session, error) {
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	endpoints, err := opcua.GetEndpoints(ctx, d.opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("get endpoints from %s: %w", d.opts.Endpoint, err)
	}
	for _, ep := range endpoints {
		ep.EndpointURL = replaceHostInEndpointURL(ep.EndpointURL, d.opts.Endpoint)
	}

	authType := userTokenType(d.opts.Username, d.opts.Password)
	ep, err := selectEndpoint(endpoints, d.opts.UseSecurity, authType)
	if err != nil {
		return nil, err
	}
	d.log.Debugf("Selected endpoint %s (mode %v, policy %s, level %d)",
		ep.EndpointURL, ep.SecurityMode, ep.SecurityPolicyURI, ep.SecurityLevel)

	if err := verifyServerCertificate(ep, d.opts.AcceptUntrusted, d.opts.ServerCertificateFingerprint); err != nil {
		return nil, err
	}

	clientOpts, err := d.clientOptions(ep, authType)
	if err != nil {
		return nil, err
	}

	c, err := opcua.NewClient(ep.EndpointURL, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}

	// The client keeps background goroutines bound to the context given to Connect,
	// so it gets its own context that lives until the session is closed.
	connCtx, cancelConn := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Connect(connCtx) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		cancelConn()
		closeCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = c.Close(closeCtx)
		cancel()
		if errors.Is(err, ua.StatusBadUserAccessDenied) {
			d.log.Warnf("Server rejected the credentials of user %q", d.opts.Username)
		}
		return nil, fmt.Errorf("connect to %s: %w", ep.EndpointURL, err)
	}

	d.log.Infof("Session established with %s", ep.EndpointURL)
	return newSession(c, cancelConn, d.opts.KeepAliveInterval, d.log), nil
}

func (d *gopcuaDialer) clientOptions(ep *ua.EndpointDescription, authType ua.UserTokenType) ([]opcua.Option, error) {
	appName := d.opts.ApplicationName
	appURI := applicationURI(appName)

	opts := []opcua.Option{
		opcua.SecurityFromEndpoint(ep, authType),
		opcua.SessionName(appName),
		opcua.ApplicationName(appName),
		opcua.ApplicationURI(appURI),
		opcua.SessionTimeout(d.opts.SessionTimeout),
		// Recovery is owned by the caller's reconnect loop.
		opcua.AutoReconnect(false),
	}
	if d.opts.RequestTimeout > 0 {
		opts = append(opts, opcua.RequestTimeout(d.opts.RequestTimeout))
	}

	switch authType {
	case ua.UserTokenTypeUserName:
		opts = append(opts, opcua.AuthUsername(d.opts.Username, d.opts.Password))
	default:
		opts = append(opts, opcua.AuthAnonymous())
	}

	if isNoSecurityEndpoint(ep) {
		return opts, nil
	}

	cert, err := d.certificate(appURI)
	if err != nil {
		return nil, err
	}
	pk, ok := cert.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("generated client key is not an RSA key")
	}
	return append(opts, opcua.PrivateKey(pk), opcua.Certificate(cert.Certificate[0])), nil
}

// certificate returns the client certificate, generating it on first use.
// Reconnects reuse it so the server sees the same application instance.
func (d *gopcuaDialer) certificate(appURI string) (*tls.Certificate, error) {
	d.certMu.Lock()
	defer d.certMu.Unlock()

	if d.cert != nil {
		return d.cert, nil
	}

	certPEM, keyPEM, err := uatest.GenerateCert(appURI+","+hostname(), 2048, certValidity)
	if err != nil {
		return nil, fmt.Errorf("generate client certificate: %w", err)
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse client certificate: %w", err)
	}
	d.cert = &cert
	return d.cert, nil
}

func applicationURI(appName string) string {
	return fmt.Sprintf("urn:%s:%s", hostname(), appName)
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "localhost"
	}
	return h
}
