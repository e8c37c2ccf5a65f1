package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/printdesk/api/internal/platform/config"
)

// FirebaseClient verifies customer ID tokens and loads user profiles through the Admin SDK. The
// SDK honours FIREBASE_AUTH_EMULATOR_HOST for local runs.
type FirebaseClient struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

var (
	_ TokenVerifier = (*FirebaseClient)(nil)
	_ UserGetter    = (*FirebaseClient)(nil)
)

// NewFirebaseClient initialises the Firebase app for the configured project.
func NewFirebaseClient(ctx context.Context, cfg config.FirebaseConfig, timeout time.Duration) (*FirebaseClient, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	return &FirebaseClient{client: authClient, timeout: timeout}, nil
}

// VerifyIDToken checks the token signature, expiry and project binding.
func (c *FirebaseClient) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("firebase client not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.VerifyIDToken(ctx, idToken)
}

// GetUser loads the Firebase user record for uid.
func (c *FirebaseClient) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if c == nil || c.client == nil {
		return nil, errors.New("firebase client not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.client.GetUser(ctx, uid)
}
