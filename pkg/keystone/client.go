// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package keystone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gophercloud/gophercloud/v2"
	"github.com/gophercloud/gophercloud/v2/openstack"

	"github.com/cobaltcore-dev/pipeline-adjust/pkg/conf"
)

// KeystoneClient for OpenStack.
type KeystoneClient interface {
	// Authenticate against the OpenStack keystone. Only the first call
	// talks to keystone, the token is reauthenticated by gophercloud.
	Authenticate(context.Context) error
	// Get the OpenStack provider client, nil until authenticated.
	Client() *gophercloud.ProviderClient
	// Find the endpoint for the given service type and availability.
	FindEndpoint(availability, serviceType string) (string, error)
	// Get the configured availability for keystone.
	Availability() string
}

type keystoneConfig = conf.KeystoneConfig

var errNotAuthenticated = errors.New("keystone: not authenticated")

type keystoneClient struct {
	keystoneConf keystoneConfig
	// Used for all requests of the provider client when set.
	httpClient *http.Client
	provider   *gophercloud.ProviderClient
}

// Create a new OpenStack keystone API client.
func NewKeystoneClient(keystoneConf conf.KeystoneConfig) KeystoneClient {
	return &keystoneClient{keystoneConf: keystoneConf}
}

// Create a new OpenStack keystone API client that sends its requests through
// httpClient, e.g. one built by the sso package.
func NewKeystoneClientWithHTTPClient(keystoneConf conf.KeystoneConfig, httpClient *http.Client) KeystoneClient {
	return &keystoneClient{keystoneConf: keystoneConf, httpClient: httpClient}
}

func (k *keystoneClient) authOptions() gophercloud.AuthOptions {
	return gophercloud.AuthOptions{
		IdentityEndpoint: k.keystoneConf.URL,
		Username:         k.keystoneConf.OSUsername,
		DomainName:       k.keystoneConf.OSUserDomainName,
		Password:         k.keystoneConf.OSPassword,
		AllowReauth:      true,
		Scope: &gophercloud.AuthScope{
			ProjectName: k.keystoneConf.OSProjectName,
			DomainName:  k.keystoneConf.OSProjectDomainName,
		},
	}
}

func (k *keystoneClient) Authenticate(ctx context.Context) error {
	if k.provider != nil {
		return nil
	}
	opts := k.authOptions()
	slog.Info("keystone: authenticating", "url", opts.IdentityEndpoint, "user", opts.Username)
	provider, err := openstack.NewClient(opts.IdentityEndpoint)
	if err != nil {
		return fmt.Errorf("keystone: invalid endpoint %s: %w", opts.IdentityEndpoint, err)
	}
	if k.httpClient != nil {
		provider.HTTPClient = *k.httpClient
	}
	if err := openstack.Authenticate(ctx, provider, opts); err != nil {
		return fmt.Errorf("keystone: authentication failed: %w", err)
	}
	k.provider = provider
	slog.Info("keystone: authenticated")
	return nil
}

func (k *keystoneClient) FindEndpoint(availability, serviceType string) (string, error) {
	if k.provider == nil {
		return "", errNotAuthenticated
	}
	return k.provider.EndpointLocator(gophercloud.EndpointOpts{
		Type:         serviceType,
		Availability: gophercloud.Availability(availability),
	})
}

func (k *keystoneClient) Availability() string {
	if k.keystoneConf.Availability == "" {
		return string(gophercloud.AvailabilityPublic)
	}
	return k.keystoneConf.Availability
}

func (k *keystoneClient) Client() *gophercloud.ProviderClient {
	return k.provider
}
