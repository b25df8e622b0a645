// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package keystone

import (
	"context"

	"github.com/gophercloud/gophercloud/v2"
)

// MockKeystoneClient points every service type at the same endpoint.
type MockKeystoneClient struct {
	Url string
	// Set by FindEndpoint for test assertions.
	RequestedServiceType string
	Authenticated        bool
	AuthenticateErr      error
}

func (m *MockKeystoneClient) Authenticate(ctx context.Context) error {
	if m.AuthenticateErr != nil {
		return m.AuthenticateErr
	}
	m.Authenticated = true
	return nil
}

func (m *MockKeystoneClient) Client() *gophercloud.ProviderClient {
	return &gophercloud.ProviderClient{
		EndpointLocator: func(gophercloud.EndpointOpts) (string, error) { return m.Url, nil },
	}
}

func (m *MockKeystoneClient) FindEndpoint(availability, serviceType string) (string, error) {
	m.RequestedServiceType = serviceType
	return m.Url, nil
}

func (m *MockKeystoneClient) Availability() string {
	return "public"
}
