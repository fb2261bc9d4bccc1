package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// CallerIdentityAPI is the subset of the STS client used to find the
// account that owns the default catalog.
type CallerIdentityAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// ResolveCatalogID returns configured when set, otherwise the account id of
// the calling identity. Glue catalog ids are account ids.
func ResolveCatalogID(ctx context.Context, api CallerIdentityAPI, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	out, err := api.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("catalog: resolve caller account: %w", err)
	}
	account := aws.ToString(out.Account)
	if account == "" {
		return "", errors.New("catalog: caller identity has no account id")
	}
	return account, nil
}

var _ CallerIdentityAPI = (*sts.Client)(nil)
