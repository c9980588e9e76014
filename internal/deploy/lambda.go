package deploy

import (
	"context"
	"fmt"

	"jwstascii-lambda-updater/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
)

// LambdaClient issues function-code updates against AWS Lambda.
type LambdaClient struct {
	client *lambda.Client
	logger *logger.Logger
}

// NewLambdaClient creates a new Lambda client. Empty credentials fall back
// to the default provider chain.
func NewLambdaClient(ctx context.Context, region, accessKey, secretKey string, log *logger.Logger) (*LambdaClient, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if region == "" {
		return nil, fmt.Errorf("region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
	}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	log.Info().
		Str("region", region).
		Msg("Lambda client created")

	return &LambdaClient{
		client: lambda.NewFromConfig(cfg),
		logger: log,
	}, nil
}

// UpdateFunctionCode instructs the function to reload its code from the
// given S3 bucket/key. There is no rollback; the prior version stays live
// until this call succeeds.
func (c *LambdaClient) UpdateFunctionCode(ctx context.Context, functionName, bucket, key string) error {
	c.logger.Debug().
		Str("function", functionName).
		Str("bucket", bucket).
		Str("key", key).
		Msg("Updating function code")

	out, err := c.client.UpdateFunctionCode(ctx, &lambda.UpdateFunctionCodeInput{
		FunctionName: aws.String(functionName),
		S3Bucket:     aws.String(bucket),
		S3Key:        aws.String(key),
	})
	if err != nil {
		c.logger.Error().
			Err(err).
			Str("function", functionName).
			Msg("Failed to update function code")
		return fmt.Errorf("failed to update function code: %w", err)
	}

	c.logger.Info().
		Str("function", functionName).
		Str("code_sha256", aws.ToString(out.CodeSha256)).
		Str("version", aws.ToString(out.Version)).
		Msg("Function code updated")

	return nil
}
