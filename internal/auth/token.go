package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

// ErrNoLensToken is returned when neither the environment nor Parameter
// Store provides a lens engine token.
var ErrNoLensToken = errors.New("lens token not configured")

// ParameterStore is the slice of the SSM API used to fetch secrets.
type ParameterStore interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// NewParameterStore loads the default AWS configuration and returns an SSM client.
func NewParameterStore(ctx context.Context) (*ssm.Client, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return ssm.NewFromConfig(cfg), nil
}

// ResolveLensToken returns token when set. Otherwise it reads the
// SecureString parameter named param from store.
func ResolveLensToken(ctx context.Context, token, param string, store ParameterStore) (string, error) {
	if token != "" {
		return token, nil
	}
	if param == "" || store == nil {
		return "", ErrNoLensToken
	}

	start := time.Now()
	result, err := store.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read lens token from SSM %s: %w", param, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", fmt.Errorf("%w: SSM parameter %s is empty", ErrNoLensToken, param)
	}
	log.Debug().Str("param", param).Dur("elapsed", time.Since(start)).Msg("Lens token loaded from SSM")
	return aws.ToString(result.Parameter.Value), nil
}
