// Package secrets loads the Gmail OAuth token from Secret Manager and
// builds an authenticated Gmail service from it.
package secrets

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	secretmanager "google.golang.org/api/secretmanager/v1"
)

// gmailToken is the persisted OAuth token shape.
type gmailToken struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenURI     string `json:"token_uri"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

// FetchSecret reads the latest version of a secret.
func FetchSecret(ctx context.Context, name string) ([]byte, error) {
	svc, err := secretmanager.NewService(ctx)
	if err != nil {
		return nil, fmt.Errorf("create secret manager service: %w", err)
	}
	res, err := svc.Projects.Secrets.Versions.
		Access(name + "/versions/latest").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("access secret %s: %w", name, err)
	}
	// The REST surface carries secret bytes base64-encoded.
	data, err := base64.StdEncoding.DecodeString(res.Payload.Data)
	if err != nil {
		return nil, fmt.Errorf("decode secret %s: %w", name, err)
	}
	return data, nil
}

// GmailService builds a Gmail client from the stored OAuth token. The
// token source refreshes with the embedded refresh token, so the secret
// only needs rotating if the grant itself is revoked.
func GmailService(ctx context.Context, secretName string) (*gmail.Service, error) {
	raw, err := FetchSecret(ctx, secretName)
	if err != nil {
		return nil, err
	}

	var tok gmailToken
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("parse gmail token secret: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, fmt.Errorf("gmail token secret has no refresh_token")
	}

	conf := &oauth2.Config{
		ClientID:     tok.ClientID,
		ClientSecret: tok.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tok.TokenURI},
	}
	ts := conf.TokenSource(ctx, &oauth2.Token{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	})

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}
