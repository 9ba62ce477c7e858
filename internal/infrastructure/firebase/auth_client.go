package firebase

import (
	"context"

	"firebase.google.com/go/v4/auth"

	"builderhub/internal/domain/entity"
	"builderhub/pkg/errors"
)

// AuthClient wraps Firebase auth as the identity provider: verified bearer
// tokens resolve to the current user.
type AuthClient struct {
	client *auth.Client
}

func NewAuthClient(client *auth.Client) *AuthClient {
	return &AuthClient{
		client: client,
	}
}

func (a *AuthClient) VerifyToken(ctx context.Context, token string) (string, error) {
	result, err := a.client.VerifyIDToken(ctx, token)
	if err != nil {
		return "", errors.Unauthorized("Invalid or expired token", err)
	}

	return result.UID, nil
}

// CurrentUser resolves the verified token into display data. Returns a
// PreconditionError when the token is empty: chat operations must not
// proceed without an identity.
func (a *AuthClient) CurrentUser(ctx context.Context, token string) (*entity.User, error) {
	if token == "" {
		return nil, errors.Precondition("No authenticated user", nil)
	}

	uid, err := a.VerifyToken(ctx, token)
	if err != nil {
		return nil, err
	}

	record, err := a.client.GetUser(ctx, uid)
	if err != nil {
		return nil, errors.Transport("Failed to load user record", err)
	}

	return &entity.User{
		ID:       record.UID,
		Username: record.DisplayName,
		Email:    record.Email,
	}, nil
}
