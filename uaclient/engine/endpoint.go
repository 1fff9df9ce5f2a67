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
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/gopcua/opcua/ua"
	"golang.org/x/crypto/sha3"
)

var errNoEndpoints = errors.New("no endpoints provided")

// selectEndpoint picks the endpoint the session is opened on.
// With useSecurity the most secure endpoint (highest SecurityLevel, mode other than None)
// wins, otherwise the first endpoint without security. If nothing matches the preference
// the first endpoint supporting the user token is used.
func selectEndpoint(endpoints []*ua.EndpointDescription, useSecurity bool, authType ua.UserTokenType) (*ua.EndpointDescription, error) {
	if len(endpoints) == 0 {
		return nil, errNoEndpoints
	}

	var candidates []*ua.EndpointDescription
	for _, ep := range endpoints {
		if isUserTokenSupported(ep, authType) {
			candidates = append(candidates, ep)
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no endpoint supports authentication type %v", authType)
	}

	if useSecurity {
		var secured []*ua.EndpointDescription
		for _, ep := range candidates {
			if !isNoSecurityEndpoint(ep) {
				secured = append(secured, ep)
			}
		}
		if len(secured) > 0 {
			sort.SliceStable(secured, func(i, j int) bool {
				return secured[i].SecurityLevel > secured[j].SecurityLevel
			})
			return secured[0], nil
		}
		return candidates[0], nil
	}

	for _, ep := range candidates {
		if isNoSecurityEndpoint(ep) {
			return ep, nil
		}
	}
	return candidates[0], nil
}

// isUserTokenSupported checks if the endpoint supports the selected user token authentication.
func isUserTokenSupported(endpoint *ua.EndpointDescription, selectedAuth ua.UserTokenType) bool {
	for _, token := range endpoint.UserIdentityTokens {
		if selectedAuth == token.TokenType {
			return true
		}
	}
	return false
}

func isNoSecurityEndpoint(endpoint *ua.EndpointDescription) bool {
	return endpoint.SecurityMode == ua.MessageSecurityModeNone ||
		endpoint.SecurityPolicyURI == ua.SecurityPolicyURINone
}

// userTokenType derives the identity from the configured credentials
func userTokenType(username, password string) ua.UserTokenType {
	if username != "" && password != "" {
		return ua.UserTokenTypeUserName
	}
	return ua.UserTokenTypeAnonymous
}

// replaceHostInEndpointURL swaps the host of an advertised endpoint URL for the host the
// client was configured with. Servers behind NAT or in containers often advertise a
// hostname the client cannot resolve.
func replaceHostInEndpointURL(endpointURL, newHost string) string {
	newHost = strings.TrimPrefix(newHost, "opc.tcp://")
	if i := strings.Index(newHost, "/"); i >= 0 {
		newHost = newHost[:i]
	}

	withoutPrefix := strings.TrimPrefix(endpointURL, "opc.tcp://")
	slashIndex := strings.Index(withoutPrefix, "/")
	if slashIndex == -1 {
		return "opc.tcp://" + newHost
	}
	return "opc.tcp://" + newHost + withoutPrefix[slashIndex:]
}

// Fingerprint returns the hex encoded SHA3-512 hash of a DER certificate.
func Fingerprint(der []byte) string {
	sum := sha3.Sum512(der)
	return hex.EncodeToString(sum[:])
}

// verifyServerCertificate checks the pinned fingerprint for secured endpoints.
// Unsecured endpoints and acceptUntrusted skip the check.
func verifyServerCertificate(ep *ua.EndpointDescription, acceptUntrusted bool, pinned string) error {
	if acceptUntrusted || isNoSecurityEndpoint(ep) {
		return nil
	}
	if pinned == "" {
		return errors.New("server certificate is untrusted: set serverCertificateFingerprint or acceptUntrusted")
	}
	got := Fingerprint(ep.ServerCertificate)
	if !strings.EqualFold(got, strings.TrimSpace(pinned)) {
		return fmt.Errorf("server certificate fingerprint mismatch: got %s", got)
	}
	return nil
}
