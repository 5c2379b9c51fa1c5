package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
	"github.com/pkg/errors"
)

var (
	ErrProviderUnavailable = errors.New("secrets provider unavailable")
	ErrNotFound            = errors.New("secret not found")
)

// Provider resolves named secret material (signing keys, storage credentials).
type Provider interface {
	GetSecret(ctx context.Context, key string) (string, error)
}

// Adapter tries a primary managed provider (Vault, then AWS Secrets Manager)
// and falls back to process environment unless SECRETS_REQUIRE_PRIMARY forbids
// that.
type Adapter struct {
	primary        Provider
	fallback       Provider
	requirePrimary bool
}

func NewAdapter(ctx context.Context) (*Adapter, error) {
	requirePrimary := strings.ToLower(os.Getenv("SECRETS_REQUIRE_PRIMARY")) == "true"
	var primary, fallback Provider
	if vaultAddr := os.Getenv("VAULT_ADDR"); vaultAddr != "" {
		if vp, err := newVaultProvider(ctx); err == nil {
			primary = vp
		}
	}
	if primary == nil {
		if awsRegion := os.Getenv("AWS_REGION"); awsRegion != "" {
			if ap, err := newAWSProvider(ctx); err == nil {
				primary = ap
			}
		}
	}
	if !requirePrimary {
		fallback = envProvider{}
	}
	if primary == nil && fallback == nil {
		return nil, fmt.Errorf("no secrets providers available (checked Vault, AWS Secrets Manager)")
	}
	return &Adapter{
		primary:        primary,
		fallback:       fallback,
		requirePrimary: requirePrimary,
	}, nil
}

func (a *Adapter) GetSecret(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if a.primary != nil {
		val, err := a.primary.GetSecret(ctx, key)
		if err == nil && val != "" {
			return val, nil
		}
		if a.requirePrimary {
			return "", fmt.Errorf("primary GetSecret failed (SECRETS_REQUIRE_PRIMARY=true): %w", err)
		}
	}
	if a.fallback != nil {
		return a.fallback.GetSecret(ctx, key)
	}
	return "", ErrProviderUnavailable
}

type vaultProvider struct {
	client     *vault.Client
	secretPath string
}

func newVaultProvider(ctx context.Context) (*vaultProvider, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = os.Getenv("VAULT_ADDR")
	cfg.Timeout = 5 * time.Second
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read VAULT_TOKEN_FILE: %w", err)
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, fmt.Errorf("vault health check failed: %w", err)
	}
	return &vaultProvider{
		client:     client,
		secretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/linkvault"),
	}, nil
}

func (v *vaultProvider) GetSecret(ctx context.Context, key string) (string, error) {
	path := fmt.Sprintf("%s/%s", v.secretPath, key)
	secret, err := v.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", errors.Wrapf(ErrNotFound, "vault: %s", key)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", errors.New("vault: value not found")
	}
	return value, nil
}

type awsProvider struct {
	smClient *secretsmanager.Client
	prefix   string
}

func newAWSProvider(ctx context.Context) (*awsProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(os.Getenv("AWS_REGION")),
	)
	if err != nil {
		return nil, err
	}
	return &awsProvider{
		smClient: secretsmanager.NewFromConfig(cfg),
		prefix:   getEnvOrDefault("SECRETS_PREFIX", "linkvault/"),
	}, nil
}

func (a *awsProvider) GetSecret(ctx context.Context, key string) (string, error) {
	name := a.prefix + key
	out, err := a.smClient.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &name,
	})
	if err != nil {
		return "", err
	}
	if out.SecretString == nil {
		return "", errors.Wrapf(ErrNotFound, "secretsmanager: %s", key)
	}
	return *out.SecretString, nil
}

type envProvider struct{}

func (envProvider) GetSecret(_ context.Context, key string) (string, error) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v, nil
	}
	return "", errors.Wrapf(ErrNotFound, "env: %s", key)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
