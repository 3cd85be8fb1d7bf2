package storage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/vidfriends/streamgate/internal/models"
)

const (
	MinTTLMinutes = 1
	MaxTTLMinutes = 120

	viewerParam   = "x-viewer"
	issuedAtParam = "x-issued-at"
)

// Presigner is the subset of *s3.PresignClient used to mint URLs.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// URLIssuer mints time-limited GET URLs for video objects. It knows nothing about
// entitlement and must only be invoked after access was granted.
type URLIssuer struct {
	presigner Presigner
	bucket    string
	now       func() time.Time
}

// NewURLIssuer constructs a URLIssuer signing against bucket.
func NewURLIssuer(presigner Presigner, bucket string) *URLIssuer {
	return &URLIssuer{presigner: presigner, bucket: bucket, now: time.Now}
}

// WithNowFunc allows tests to override the time source.
func (i *URLIssuer) WithNowFunc(now func() time.Time) *URLIssuer {
	i.now = now
	return i
}

// ValidateTTL rejects lifetimes outside [MinTTLMinutes, MaxTTLMinutes].
func ValidateTTL(ttlMinutes int) error {
	if ttlMinutes < MinTTLMinutes || ttlMinutes > MaxTTLMinutes {
		return &models.ValidationError{
			Field:   "ttlMinutes",
			Message: fmt.Sprintf("must be between %d and %d", MinTTLMinutes, MaxTTLMinutes),
		}
	}
	return nil
}

// IssueURL returns a URL for videoKey that expires ttlMinutes from now. The viewer
// and issue time are stamped into the query for access-log forensics.
func (i *URLIssuer) IssueURL(ctx context.Context, videoKey, userID string, ttlMinutes int) (models.IssuedCapability, error) {
	if err := ValidateTTL(ttlMinutes); err != nil {
		return models.IssuedCapability{}, err
	}
	key := strings.TrimLeft(strings.TrimSpace(videoKey), "/")
	if key == "" {
		return models.IssuedCapability{}, &models.ValidationError{Field: "videoKey", Message: "must not be empty"}
	}

	issuedAt := i.now().UTC()
	ttl := time.Duration(ttlMinutes) * time.Minute

	req, err := i.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket:                     aws.String(i.bucket),
		Key:                        aws.String(key),
		ResponseContentDisposition: aws.String("inline"),
		ResponseCacheControl:       aws.String("no-cache, no-store, must-revalidate"),
	},
		s3.WithPresignExpires(ttl),
		s3.WithPresignClientFromClientOptions(func(o *s3.Options) {
			o.APIOptions = append(o.APIOptions, addForensicQuery(userID, issuedAt))
		}),
	)
	if err != nil {
		return models.IssuedCapability{}, fmt.Errorf("presign %s: %w", key, err)
	}

	return models.IssuedCapability{
		URL:       req.URL,
		VideoKey:  key,
		IssuedTo:  userID,
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(ttl),
	}, nil
}

// addForensicQuery runs before signing, so the parameters are covered by the signature.
func addForensicQuery(userID string, issuedAt time.Time) func(*middleware.Stack) error {
	return func(stack *middleware.Stack) error {
		return stack.Build.Add(middleware.BuildMiddlewareFunc("StreamgateForensicQuery",
			func(ctx context.Context, in middleware.BuildInput, next middleware.BuildHandler) (middleware.BuildOutput, middleware.Metadata, error) {
				req, ok := in.Request.(*smithyhttp.Request)
				if !ok {
					return next.HandleBuild(ctx, in)
				}
				query := req.URL.Query()
				query.Set(viewerParam, userID)
				query.Set(issuedAtParam, strconv.FormatInt(issuedAt.Unix(), 10))
				req.URL.RawQuery = query.Encode()
				return next.HandleBuild(ctx, in)
			}), middleware.After)
	}
}
