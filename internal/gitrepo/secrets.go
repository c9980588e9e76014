package gitrepo

import (
	"context"
	"fmt"

	"jwstascii-lambda-updater/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// SecretFetcher retrieves named secrets. Satisfied by SecretsManagerClient;
// tests substitute a fake.
type SecretFetcher interface {
	GetSecretValue(ctx context.Context, name string) (string, error)
}

// SecretsManagerClient reads secrets from AWS Secrets Manager.
type SecretsManagerClient struct {
	client *secretsmanager.Client
	logger *logger.Logger
}

// NewSecretsManagerClient creates a Secrets Manager client using the default
// credential chain.
func NewSecretsManagerClient(ctx context.Context, region string, log *logger.Logger) (*SecretsManagerClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SecretsManagerClient{
		client: secretsmanager.NewFromConfig(cfg),
		logger: log,
	}, nil
}

// GetSecretValue returns the string value of the named secret.
func (c *SecretsManagerClient) GetSecretValue(ctx context.Context, name string) (string, error) {
	c.logger.Debug().
		Str("secret", name).
		Msg("Fetching secret")

	out, err := c.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return "", fmt.Errorf("failed to fetch secret %s: %w", name, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", name)
	}

	return *out.SecretString, nil
}
