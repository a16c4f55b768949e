package livy

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// DefaultAzureScope is the token scope for Azure-hosted Livy endpoints.
const DefaultAzureScope = "https://management.azure.com/.default"

// Authenticator decorates outgoing requests with credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, req *http.Request) error
}

// BasicAuth authenticates with a username and password, as linked
// clusters do.
type BasicAuth struct {
	Username string
	Password string
}

func (b BasicAuth) Authenticate(_ context.Context, req *http.Request) error {
	if b.Username == "" {
		return nil
	}
	req.SetBasicAuth(b.Username, b.Password)
	return nil
}

// TokenSource yields bearer tokens.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// BearerAuth authenticates with a token from Source. A token failure is an
// auth error and is never retried.
type BearerAuth struct {
	Source TokenSource
}

func (b BearerAuth) Authenticate(ctx context.Context, req *http.Request) error {
	if b.Source == nil {
		return newError("Authenticate", ErrAuth, 0, errors.New("not signed in"))
	}
	tok, err := b.Source.Token(ctx)
	if err != nil {
		return newError("Authenticate", ErrAuth, 0, err)
	}
	if strings.TrimSpace(tok) == "" {
		return newError("Authenticate", ErrAuth, 0, errors.New("empty access token"))
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

// AzureTokenSource obtains tokens from an Azure credential.
type AzureTokenSource struct {
	cred     azcore.TokenCredential
	tenantID string
	scopes   []string
}

// NewAzureTokenSource uses the Azure default credential chain
// (environment, workload identity, managed identity, Azure CLI).
func NewAzureTokenSource(tenantID string, scopes ...string) (*AzureTokenSource, error) {
	cred, err := azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{TenantID: tenantID})
	if err != nil {
		return nil, newError("NewAzureTokenSource", ErrAuth, 0, err)
	}
	return NewAzureTokenSourceFromCredential(cred, tenantID, scopes...), nil
}

// NewAzureTokenSourceFromCredential wraps an existing credential.
func NewAzureTokenSourceFromCredential(cred azcore.TokenCredential, tenantID string, scopes ...string) *AzureTokenSource {
	if len(scopes) == 0 {
		scopes = []string{DefaultAzureScope}
	}
	return &AzureTokenSource{cred: cred, tenantID: tenantID, scopes: scopes}
}

func (s *AzureTokenSource) Token(ctx context.Context) (string, error) {
	if s == nil || s.cred == nil {
		return "", errors.New("not signed in")
	}
	tk, err := s.cred.GetToken(ctx, policy.TokenRequestOptions{Scopes: s.scopes, TenantID: s.tenantID})
	if err != nil {
		return "", err
	}
	return tk.Token, nil
}
