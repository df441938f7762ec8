package secret

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/rs/zerolog"
)

// AWSOptions selects the credentials used to reach AWS secret services.
type AWSOptions struct {
	Profile         string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// LoadAWSConfig builds an aws.Config from the default chain, a named shared
// profile, or static keys when both key fields are set.
func LoadAWSConfig(ctx context.Context, opts AWSOptions) (aws.Config, error) {
	var optFns []func(*config.LoadOptions) error
	if opts.Profile != "" {
		optFns = append(optFns, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Region != "" {
		optFns = append(optFns, config.WithRegion(opts.Region))
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		optFns = append(optFns, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, opts.SessionToken),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}

type stsAPI interface {
	GetCallerIdentity(ctx context.Context, in *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// LogCallerIdentity resolves the AWS principal the decrypter will act as and
// logs it at debug level. Failures are logged, not returned: the first
// decrypt call reports credential problems with better context.
func LogCallerIdentity(ctx context.Context, client stsAPI, logger zerolog.Logger) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		logger.Warn().Err(err).Msg("could not resolve AWS caller identity")
		return
	}
	logger.Debug().
		Str("arn", aws.ToString(out.Arn)).
		Str("account", aws.ToString(out.Account)).
		Msg("decrypting secrets as AWS principal")
}

// NewAWSDecrypter builds the decrypter for an AWS-backed backend name.
func NewAWSDecrypter(ctx context.Context, backend string, opts AWSOptions, logger zerolog.Logger) (Decrypter, error) {
	cfg, err := LoadAWSConfig(ctx, opts)
	if err != nil {
		return nil, err
	}
	LogCallerIdentity(ctx, sts.NewFromConfig(cfg), logger)

	switch backend {
	case BackendKMS:
		return NewKMSDecrypterFromConfig(cfg), nil
	case BackendSecretsManager:
		return NewSecretsManagerDecrypterFromConfig(cfg), nil
	case BackendSSM:
		return NewSSMDecrypterFromConfig(cfg), nil
	default:
		return nil, fmt.Errorf("backend %q is not AWS-backed", backend)
	}
}
