package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/stretchr/testify/require"

	"github.com/peteski22/samaysync/internal/auth"
)

type mockSecretsManagerClient struct {
	getSecretValueFunc func(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
	putSecretValueFunc func(ctx context.Context, params *secretsmanager.PutSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error)
}

func (m *mockSecretsManagerClient) GetSecretValue(
	ctx context.Context,
	params *secretsmanager.GetSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.GetSecretValueOutput, error) {
	if m.getSecretValueFunc != nil {
		return m.getSecretValueFunc(ctx, params, optFns...)
	}
	return &secretsmanager.GetSecretValueOutput{}, nil
}

func (m *mockSecretsManagerClient) PutSecretValue(
	ctx context.Context,
	params *secretsmanager.PutSecretValueInput,
	optFns ...func(*secretsmanager.Options),
) (*secretsmanager.PutSecretValueOutput, error) {
	if m.putSecretValueFunc != nil {
		return m.putSecretValueFunc(ctx, params, optFns...)
	}
	return &secretsmanager.PutSecretValueOutput{}, nil
}

const testSecretARN = "arn:aws:secretsmanager:eu-west-2:123456789012:secret:samaysync-tokens"

func TestNewSecretsManagerTokenStore(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		client    SecretsManagerAPI
		errMsg    string
		secretARN string
		wantErr   bool
	}{
		"valid inputs": {
			client:    &mockSecretsManagerClient{},
			secretARN: testSecretARN,
		},
		"nil client": {
			client:    nil,
			secretARN: testSecretARN,
			wantErr:   true,
			errMsg:    "secrets manager client is required",
		},
		"empty ARN": {
			client:    &mockSecretsManagerClient{},
			secretARN: "",
			wantErr:   true,
			errMsg:    "secret ARN is required",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			store, err := NewSecretsManagerTokenStore(tc.client, tc.secretARN)

			if tc.wantErr {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.errMsg)
				require.Nil(t, store)
			} else {
				require.NoError(t, err)
				require.NotNil(t, store)
			}
		})
	}
}

func TestSecretsManagerTokenStore_Load(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		err         error
		secret      *string
		wantErr     bool
		wantNoToken bool
		wantRefresh string
	}{
		"json token set": {
			secret:      aws.String(`{"access_token":"a","refresh_token":"r1"}`),
			wantRefresh: "r1",
		},
		"bare refresh token": {
			secret:      aws.String("provisioned-refresh-token"),
			wantRefresh: "provisioned-refresh-token",
		},
		"cleared secret": {
			secret:      aws.String(emptySecret),
			wantErr:     true,
			wantNoToken: true,
		},
		"nil secret string": {
			secret:      nil,
			wantErr:     true,
			wantNoToken: true,
		},
		"secret not found": {
			err:         &types.ResourceNotFoundException{},
			wantErr:     true,
			wantNoToken: true,
		},
		"api error": {
			err:     errors.New("access denied"),
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			client := &mockSecretsManagerClient{
				getSecretValueFunc: func(_ context.Context, params *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
					require.Equal(t, testSecretARN, *params.SecretId)
					if tc.err != nil {
						return nil, tc.err
					}
					return &secretsmanager.GetSecretValueOutput{SecretString: tc.secret}, nil
				},
			}
			store, err := NewSecretsManagerTokenStore(client, testSecretARN)
			require.NoError(t, err)

			tokens, err := store.Load(context.Background())

			if tc.wantErr {
				require.Error(t, err)
				require.Equal(t, tc.wantNoToken, errors.Is(err, auth.ErrNoToken))
			} else {
				require.NoError(t, err)
				require.Equal(t, tc.wantRefresh, tokens.RefreshToken)
			}
		})
	}
}

func TestSecretsManagerTokenStore_SaveAndClear(t *testing.T) {
	t.Parallel()

	var written []string
	client := &mockSecretsManagerClient{
		putSecretValueFunc: func(_ context.Context, params *secretsmanager.PutSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.PutSecretValueOutput, error) {
			written = append(written, *params.SecretString)
			return &secretsmanager.PutSecretValueOutput{}, nil
		},
	}
	store, err := NewSecretsManagerTokenStore(client, testSecretARN)
	require.NoError(t, err)

	require.Error(t, store.Save(context.Background(), auth.TokenSet{}))
	require.NoError(t, store.Save(context.Background(), auth.TokenSet{AccessToken: "a", RefreshToken: "r"}))
	require.NoError(t, store.Clear(context.Background()))

	require.Len(t, written, 2)

	var saved auth.TokenSet
	require.NoError(t, json.Unmarshal([]byte(written[0]), &saved))
	require.Equal(t, "r", saved.RefreshToken)
	require.Equal(t, emptySecret, written[1])
}
