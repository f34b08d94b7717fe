package registry

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/andyleap/mcpauth/internal/models"
)

// StaticClient is one pre-registered client in the static clients file.
// ClientSecret is optional; confidential clients without one get a random
// secret, which is logged nowhere and therefore only useful for testing.
type StaticClient struct {
	models.ClientRegistration `yaml:",inline"`
	ClientSecret              string `yaml:"client_secret,omitempty"`
}

type staticClientsFile struct {
	Clients []StaticClient `yaml:"clients"`
}

// LoadStaticClients reads a YAML file of the form
//
//	clients:
//	  - client_name: Demo
//	    redirect_uris: [http://localhost:3000/callback]
func LoadStaticClients(path string) ([]StaticClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read static clients file: %w", err)
	}

	var file staticClientsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse static clients file: %w", err)
	}

	return file.Clients, nil
}

// RegisterStatic registers every client from a static clients file.
func (s *Service) RegisterStatic(ctx context.Context, clients []StaticClient) ([]*models.Client, error) {
	registered := make([]*models.Client, 0, len(clients))
	for i := range clients {
		c, err := s.register(ctx, &clients[i].ClientRegistration, clients[i].ClientSecret)
		if err != nil {
			return nil, fmt.Errorf("static client %d (%q): %w", i, clients[i].ClientName, err)
		}
		registered = append(registered, c)
	}
	return registered, nil
}
