package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"

	"github.com/peteski22/samaysync/internal/cursor"
)

// SSMAPI defines the SSM operations used by the cursor backend.
type SSMAPI interface {
	// DeleteParameter removes a parameter from SSM.
	DeleteParameter(
		ctx context.Context,
		params *ssm.DeleteParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.DeleteParameterOutput, error)

	// GetParametersByPath lists parameters under a path prefix.
	GetParametersByPath(
		ctx context.Context,
		params *ssm.GetParametersByPathInput,
		optFns ...func(*ssm.Options),
	) (*ssm.GetParametersByPathOutput, error)

	// PutParameter stores a parameter in SSM.
	PutParameter(
		ctx context.Context,
		params *ssm.PutParameterInput,
		optFns ...func(*ssm.Options),
	) (*ssm.PutParameterOutput, error)
}

// SSMCursorBackend stores one JSON-encoded cursor per SSM parameter, named
// <prefix>/<bucket id>. A single PutParameter replaces a cursor atomically.
type SSMCursorBackend struct {
	// client is the SSM API client.
	client SSMAPI

	// prefix is the parameter path under which cursors are stored.
	prefix string
}

// NewSSMCursorBackend creates a new SSM-backed cursor backend.
func NewSSMCursorBackend(client SSMAPI, prefix string) (*SSMCursorBackend, error) {
	if client == nil {
		return nil, errors.New("ssm client is required")
	}

	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return nil, errors.New("parameter prefix is required")
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	return &SSMCursorBackend{
		client: client,
		prefix: prefix,
	}, nil
}

// Load lists every cursor parameter under the prefix.
func (s *SSMCursorBackend) Load(ctx context.Context) (map[string]cursor.Cursor, error) {
	cursors := make(map[string]cursor.Cursor)

	var nextToken *string
	for {
		output, err := s.client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
			NextToken: nextToken,
			Path:      aws.String(s.prefix),
			Recursive: aws.Bool(false),
		})
		if err != nil {
			return nil, fmt.Errorf("listing parameters from SSM: %w", err)
		}

		for _, p := range output.Parameters {
			if p.Name == nil || p.Value == nil {
				continue
			}

			var c cursor.Cursor
			if err := json.Unmarshal([]byte(*p.Value), &c); err != nil {
				return nil, fmt.Errorf("decoding parameter %s: %w", *p.Name, err)
			}

			bucketID := strings.TrimPrefix(*p.Name, s.prefix+"/")
			c.BucketID = bucketID
			cursors[bucketID] = c
		}

		if output.NextToken == nil || *output.NextToken == "" {
			break
		}
		nextToken = output.NextToken
	}

	return cursors, nil
}

// Put writes the cursor parameter, overwriting any previous value.
func (s *SSMCursorBackend) Put(ctx context.Context, c cursor.Cursor) error {
	if c.BucketID == "" {
		return errors.New("bucket ID is required")
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding cursor: %w", err)
	}

	_, err = s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(s.parameterName(c.BucketID)),
		Overwrite: aws.Bool(true),
		Type:      types.ParameterTypeString,
		Value:     aws.String(string(data)),
	})
	if err != nil {
		return fmt.Errorf("putting parameter to SSM: %w", err)
	}

	return nil
}

// Delete removes the cursor parameter. A missing parameter is not an error.
func (s *SSMCursorBackend) Delete(ctx context.Context, bucketID string) error {
	_, err := s.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{
		Name: aws.String(s.parameterName(bucketID)),
	})
	if err != nil {
		var notFoundErr *types.ParameterNotFound
		if errors.As(err, &notFoundErr) {
			return nil
		}
		return fmt.Errorf("deleting parameter from SSM: %w", err)
	}

	return nil
}

// parameterName returns the SSM parameter name for a bucket.
func (s *SSMCursorBackend) parameterName(bucketID string) string {
	return s.prefix + "/" + bucketID
}
