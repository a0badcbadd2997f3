package adapters

import (
	"context"
	"testing"

	"github.com/oriys/skysweep/internal/sources"
	"github.com/stretchr/testify/require"
)

func TestNewAMQPRejectsLoginCredential(t *testing.T) {
	site := sources.Site{Name: "s1", Credential: sources.CredentialBundle{Kind: sources.CredLogin}}
	_, err := NewAMQP(site, nil)
	require.Error(t, err)
}

func TestAMQPStreamRequiresTopics(t *testing.T) {
	site := sources.Site{Name: "s1", Credential: sources.CredentialBundle{Kind: sources.CredAnonymous}, BaseURL: "amqp://localhost"}
	a, err := NewAMQP(site, nil)
	require.NoError(t, err)

	err = a.Stream(context.Background(), nil, "", nil)
	require.Error(t, err)
}
