package gcs

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/angelmondragon/tradeline-backend/pkg/config"
)

const storageScope = "https://www.googleapis.com/auth/devstorage.read_write"

// loadCredentials prefers inline JSON, then the key file. Without either it
// falls back to the metadata server, which authenticates but cannot sign.
func loadCredentials(ctx context.Context, gcp config.GCPConfig) (oauth2.TokenSource, *urlSigner, error) {
	var raw []byte
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		raw = []byte(gcp.CredentialsJSON)
	case gcp.ApplicationCredentials != "":
		data, err := os.ReadFile(gcp.ApplicationCredentials)
		if err != nil {
			return nil, nil, fmt.Errorf("read gcs credentials file: %w", err)
		}
		raw = data
	default:
		return google.ComputeTokenSource("", storageScope), nil, nil
	}

	conf, err := google.JWTConfigFromJSON(raw, storageScope)
	if err != nil {
		return nil, nil, fmt.Errorf("parse service account credentials: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(conf.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("parse service account key: %w", err)
	}
	// token refreshes outlive the startup context
	return conf.TokenSource(context.WithoutCancel(ctx)), &urlSigner{email: conf.Email, key: key}, nil
}
