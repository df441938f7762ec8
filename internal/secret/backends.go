package secret

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// Backend names accepted by --decryption-backend.
const (
	BackendKMS            = "kms"
	BackendSecretsManager = "secretsmanager"
	BackendSSM            = "ssm"
	BackendVault          = "vault"
)

// Backends lists every supported backend name.
var Backends = []string{BackendKMS, BackendSecretsManager, BackendSSM, BackendVault}

// IsAWSBackend reports whether backend talks to AWS.
func IsAWSBackend(backend string) bool {
	switch backend {
	case BackendKMS, BackendSecretsManager, BackendSSM:
		return true
	}
	return false
}

// --- KMS ---

type kmsAPI interface {
	Decrypt(ctx context.Context, in *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSDecrypter decrypts base64-encoded KMS ciphertext blobs.
type KMSDecrypter struct {
	client kmsAPI
}

// NewKMSDecrypter wraps an existing KMS client.
func NewKMSDecrypter(client kmsAPI) *KMSDecrypter {
	return &KMSDecrypter{client: client}
}

// NewKMSDecrypterFromConfig creates a KMS client from cfg.
func NewKMSDecrypterFromConfig(cfg aws.Config) *KMSDecrypter {
	return NewKMSDecrypter(kms.NewFromConfig(cfg))
}

func (d *KMSDecrypter) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	blob, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ciphertext))
	if err != nil {
		return "", fmt.Errorf("decoding KMS ciphertext: %w", err)
	}
	out, err := d.client.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: blob})
	if err != nil {
		return "", fmt.Errorf("kms Decrypt: %w", err)
	}
	return string(out.Plaintext), nil
}

// --- Secrets Manager ---

type secretsManagerAPI interface {
	GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// SecretsManagerDecrypter treats the value as a secret id or ARN and returns
// the secret string.
type SecretsManagerDecrypter struct {
	client secretsManagerAPI
}

// NewSecretsManagerDecrypter wraps an existing Secrets Manager client.
func NewSecretsManagerDecrypter(client secretsManagerAPI) *SecretsManagerDecrypter {
	return &SecretsManagerDecrypter{client: client}
}

// NewSecretsManagerDecrypterFromConfig creates a Secrets Manager client from cfg.
func NewSecretsManagerDecrypterFromConfig(cfg aws.Config) *SecretsManagerDecrypter {
	return NewSecretsManagerDecrypter(secretsmanager.NewFromConfig(cfg))
}

func (d *SecretsManagerDecrypter) Decrypt(ctx context.Context, secretID string) (string, error) {
	out, err := d.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: aws.String(secretID)})
	if err != nil {
		return "", fmt.Errorf("secretsmanager GetSecretValue %s: %w", secretID, err)
	}
	if out.SecretString == nil {
		return "", fmt.Errorf("secret %s has no string value", secretID)
	}
	return aws.ToString(out.SecretString), nil
}

// --- SSM Parameter Store ---

type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMDecrypter treats the value as a parameter name and returns its
// decrypted value.
type SSMDecrypter struct {
	client ssmAPI
}

// NewSSMDecrypter wraps an existing SSM client.
func NewSSMDecrypter(client ssmAPI) *SSMDecrypter {
	return &SSMDecrypter{client: client}
}

// NewSSMDecrypterFromConfig creates an SSM client from cfg.
func NewSSMDecrypterFromConfig(cfg aws.Config) *SSMDecrypter {
	return NewSSMDecrypter(ssm.NewFromConfig(cfg))
}

func (d *SSMDecrypter) Decrypt(ctx context.Context, name string) (string, error) {
	out, err := d.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm GetParameter %s: %w", name, err)
	}
	if out.Parameter == nil {
		return "", fmt.Errorf("parameter %s has no value", name)
	}
	return aws.ToString(out.Parameter.Value), nil
}

// --- Vault ---

type vaultReader interface {
	Get(key string) ([]byte, error)
}

// VaultDecrypter resolves values as keys into a local encrypted vault.
type VaultDecrypter struct {
	vault vaultReader
}

// NewVaultDecrypter wraps an opened vault.
func NewVaultDecrypter(v vaultReader) *VaultDecrypter {
	return &VaultDecrypter{vault: v}
}

func (d *VaultDecrypter) Decrypt(_ context.Context, key string) (string, error) {
	plain, err := d.vault.Get(key)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}
