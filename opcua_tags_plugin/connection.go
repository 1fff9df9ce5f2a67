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

// Package opcua_tags_plugin exposes the tag client as benthos input and output.
package opcua_tags_plugin

import (
	"fmt"
	"time"

	"github.com/redpanda-data/benthos/v4/public/service"

	"github.com/united-manufacturing-hub/opcua-tag-client/uaclient"
)

const (
	defaultConnectTimeout = "10s"
	defaultNamespace      = 2
)

// connectionFields are shared by the input and the output
func connectionFields() []*service.ConfigField {
	return []*service.ConfigField{
		service.NewStringField("endpoint").
			Description("The OPC UA server endpoint to connect to.").
			Example("opc.tcp://localhost:4840"),
		service.NewIntField("namespace").
			Description("Namespace index of the tag addresses.").
			Default(defaultNamespace),
		service.NewStringField("applicationName").
			Description("Application and session name presented to the server.").
			Default(uaclient.DefaultApplicationName).
			Advanced(),
		service.NewBoolField("useSecurity").
			Description("Prefer the most secure endpoint the server offers.").
			Default(false),
		service.NewBoolField("acceptUntrusted").
			Description("Accept any server certificate on secured endpoints.").
			Default(false).
			Advanced(),
		service.NewStringField("serverCertificateFingerprint").
			Description("The server certificate fingerprint to verify, SHA3-512 hash.").
			Default("").
			Advanced(),
		service.NewStringField("username").
			Description("The username for authentication.").
			Default("").
			Advanced(),
		service.NewStringField("password").
			Description("The password for authentication.").
			Default("").
			Secret().
			Advanced(),
		service.NewDurationField("connectTimeout").
			Description("Time allowed for endpoint discovery and session activation.").
			Default(defaultConnectTimeout).
			Advanced(),
		service.NewDurationField("sessionTimeout").
			Description("Session timeout requested from the server.").
			Default(uaclient.DefaultSessionTimeout.String()).
			Advanced(),
		service.NewDurationField("keepAliveInterval").
			Description("Interval of the keep-alive heartbeat that triggers reconnects.").
			Default(uaclient.DefaultKeepAliveInterval.String()).
			Advanced(),
		service.NewDurationField("reconnectPeriod").
			Description("Wait between reconnect attempts after the keep-alive failed.").
			Default(uaclient.DefaultReconnectPeriod.String()).
			Advanced(),
	}
}

// connection is the parsed connection part of a plugin config
type connection struct {
	Client         uaclient.Config
	Namespace      uint16
	ConnectTimeout time.Duration
}

func parseConnection(conf *service.ParsedConfig) (connection, error) {
	var (
		c   connection
		err error
	)

	if c.Client.Endpoint, err = conf.FieldString("endpoint"); err != nil {
		return c, err
	}
	ns, err := conf.FieldInt("namespace")
	if err != nil {
		return c, err
	}
	if ns < 0 || ns > 0xFFFF {
		return c, fmt.Errorf("namespace %d out of range", ns)
	}
	c.Namespace = uint16(ns)

	if c.Client.ApplicationName, err = conf.FieldString("applicationName"); err != nil {
		return c, err
	}
	if c.Client.UseSecurity, err = conf.FieldBool("useSecurity"); err != nil {
		return c, err
	}
	if c.Client.AcceptUntrusted, err = conf.FieldBool("acceptUntrusted"); err != nil {
		return c, err
	}
	if c.Client.ServerCertificateFingerprint, err = conf.FieldString("serverCertificateFingerprint"); err != nil {
		return c, err
	}
	if c.Client.Username, err = conf.FieldString("username"); err != nil {
		return c, err
	}
	if c.Client.Password, err = conf.FieldString("password"); err != nil {
		return c, err
	}
	if c.ConnectTimeout, err = conf.FieldDuration("connectTimeout"); err != nil {
		return c, err
	}
	if c.Client.SessionTimeout, err = conf.FieldDuration("sessionTimeout"); err != nil {
		return c, err
	}
	if c.Client.KeepAliveInterval, err = conf.FieldDuration("keepAliveInterval"); err != nil {
		return c, err
	}
	if c.Client.ReconnectPeriod, err = conf.FieldDuration("reconnectPeriod"); err != nil {
		return c, err
	}

	if err := c.Client.Validate(); err != nil {
		return c, err
	}
	return c, nil
}
