package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"

	"github.com/peteski22/samaysync/internal/auth"
)

// emptySecret is written on Clear because Secrets Manager rejects empty values.
const emptySecret = "{}"

// SecretsManagerAPI defines the Secrets Manager operations used by the token store.
type SecretsManagerAPI interface {
	// GetSecretValue retrieves a secret value.
	GetSecretValue(
		ctx context.Context,
		params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.GetSecretValueOutput, error)

	// PutSecretValue stores a secret value.
	PutSecretValue(
		ctx context.Context,
		params *secretsmanager.PutSecretValueInput,
		optFns ...func(*secretsmanager.Options),
	) (*secretsmanager.PutSecretValueOutput, error)
}

// SecretsManagerTokenStore keeps the OAuth token set as a JSON secret in AWS Secrets Manager.
type SecretsManagerTokenStore struct {
	// client is the Secrets Manager API client.
	client SecretsManagerAPI

	// secretARN is the ARN of the secret storing the tokens.
	secretARN string
}

// NewSecretsManagerTokenStore creates a new Secrets Manager-backed token store.
func NewSecretsManagerTokenStore(client SecretsManagerAPI, secretARN string) (*SecretsManagerTokenStore, error) {
	if client == nil {
		return nil, errors.New("secrets manager client is required")
	}
	if secretARN == "" {
		return nil, errors.New("secret ARN is required")
	}

	return &SecretsManagerTokenStore{
		client:    client,
		secretARN: secretARN,
	}, nil
}

// Load returns the tokens held in the secret.
func (t *SecretsManagerTokenStore) Load(ctx context.Context) (auth.TokenSet, error) {
	output, err := t.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(t.secretARN),
	})
	if err != nil {
		var notFoundErr *types.ResourceNotFoundException
		if errors.As(err, &notFoundErr) {
			return auth.TokenSet{}, auth.ErrNoToken
		}
		return auth.TokenSet{}, fmt.Errorf("getting secret from Secrets Manager: %w", err)
	}

	if output.SecretString == nil || *output.SecretString == "" {
		return auth.TokenSet{}, auth.ErrNoToken
	}

	var tokens auth.TokenSet
	if err := json.Unmarshal([]byte(*output.SecretString), &tokens); err != nil {
		// A bare string is treated as a refresh token provisioned by hand.
		tokens = auth.TokenSet{RefreshToken: *output.SecretString}
	}
	if tokens.Empty() {
		return auth.TokenSet{}, auth.ErrNoToken
	}

	return tokens, nil
}

// Save stores a new token set in Secrets Manager.
func (t *SecretsManagerTokenStore) Save(ctx context.Context, tokens auth.TokenSet) error {
	if tokens.Empty() {
		return errors.New("tokens cannot be empty")
	}

	data, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encoding tokens: %w", err)
	}

	return t.put(ctx, string(data))
}

// Clear replaces the secret with an empty token set.
func (t *SecretsManagerTokenStore) Clear(ctx context.Context) error {
	return t.put(ctx, emptySecret)
}

// put writes a new secret version.
func (t *SecretsManagerTokenStore) put(ctx context.Context, value string) error {
	_, err := t.client.PutSecretValue(ctx, &secretsmanager.PutSecretValueInput{
		SecretId:     aws.String(t.secretARN),
		SecretString: aws.String(value),
	})
	if err != nil {
		return fmt.Errorf("putting secret to Secrets Manager: %w", err)
	}

	return nil
}
