package assets

import (
	"bytes"
	"context"
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/opencompanion/companion/src/config"
	"github.com/opencompanion/companion/src/db"
	"github.com/opencompanion/companion/src/logging"
	"github.com/opencompanion/companion/src/models"
	"github.com/opencompanion/companion/src/oops"
)

// The subset of the S3 client we use. Tests swap in a fake.
type ObjectStore interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
}

var (
	store     ObjectStore
	storeOnce sync.Once
)

func getStore() ObjectStore {
	storeOnce.Do(func() {
		if store != nil {
			return
		}
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(
					config.Config.S3.AccessKey,
					config.Config.S3.Secret,
					"",
				),
			),
			awsconfig.WithRegion(config.Config.S3.Region),
			awsconfig.WithEndpointResolver(aws.EndpointResolverFunc(func(service, region string) (aws.Endpoint, error) {
				return aws.Endpoint{
					URL: config.Config.S3.Endpoint,
				}, nil
			})),
		)
		if err != nil {
			panic(oops.New(err, "failed to load S3 config"))
		}
		store = s3.NewFromConfig(cfg, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	})
	return store
}

// Replaces the object store for the rest of the process. Must be called before
// anything else in this package is used.
func SetStore(s ObjectStore) {
	storeOnce.Do(func() {})
	store = s
}

type CreateInput struct {
	Content     []byte
	Filename    string
	ContentType string

	// Optional params
	Width, Height int
}

var REIllegalFilenameChars = regexp.MustCompile(`[^\w\-.]`)

func SanitizeFilename(filename string) string {
	if filename == "" {
		return "unnamed"
	}
	return REIllegalFilenameChars.ReplaceAllString(filename, "_")
}

func AssetKey(id, filename string) string {
	return fmt.Sprintf("%s/%s", id, filename)
}

// Public URL of an uploaded object.
func URL(key string) string {
	base := config.Config.S3.PublicUrl
	if base == "" {
		base = fmt.Sprintf("%s/%s", strings.TrimSuffix(config.Config.S3.Endpoint, "/"), config.Config.S3.Bucket)
	}
	return fmt.Sprintf("%s/%s", strings.TrimSuffix(base, "/"), key)
}

type InvalidAssetError error

/*
Validates the input and inserts the asset row, without uploading anything. Callers
insert the asset and whatever points at it inside one transaction, then call Put
just before committing, so a failed insert or upload leaves nothing behind. A
commit that fails after a good upload orphans the object; nothing reads objects
that have no row, so that costs only bucket space.
*/
func Insert(ctx context.Context, dbConn db.ConnOrTx, in CreateInput) (*models.Asset, error) {
	filename := SanitizeFilename(in.Filename)

	if len(in.Content) == 0 {
		return nil, InvalidAssetError(fmt.Errorf("could not upload asset '%s': no bytes of data were provided", filename))
	}
	if in.ContentType == "" {
		return nil, InvalidAssetError(fmt.Errorf("could not upload asset '%s': no content type provided", filename))
	}

	id := uuid.New()
	asset, err := db.QueryOne[models.Asset](ctx, dbConn,
		`
		INSERT INTO asset (id, s3_key, filename, size, mime_type, sha1sum, width, height)
		VALUES            ($1, $2,     $3,       $4,   $5,        $6,      $7,    $8)
		RETURNING $columns
		`,
		id,
		AssetKey(id.String(), filename),
		filename,
		len(in.Content),
		in.ContentType,
		fmt.Sprintf("%x", sha1.Sum(in.Content)),
		in.Width,
		in.Height,
	)
	if err != nil {
		return nil, oops.New(err, "failed to save asset record")
	}

	return asset, nil
}

// Uploads the content of an inserted asset to the configured store.
func Put(ctx context.Context, asset *models.Asset, content []byte) error {
	return Upload(ctx, getStore(), asset.S3Key, content, asset.MimeType)
}

const maxUploadAttempts = 3

/*
Puts an object in the configured bucket. A missing bucket is created on the spot.
Server-side and network failures are retried with backoff; client errors (bad
credentials and the like) are not.
*/
func Upload(ctx context.Context, s ObjectStore, key string, content []byte, contentType string) error {
	bucket := config.Config.S3.Bucket
	put := func() error {
		_, err := s.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      &bucket,
			Key:         &key,
			Body:        bytes.NewReader(content),
			ACL:         types.ObjectCannedACLPublicRead,
			ContentType: &contentType,
		})
		return err
	}

	b := &backoff.Backoff{
		Min:    100 * time.Millisecond,
		Max:    2 * time.Second,
		Factor: 2,
		Jitter: true,
	}
	createdBucket := false
	for {
		err := put()
		if err == nil {
			return nil
		}

		var apiError smithy.APIError
		if errors.As(err, &apiError) && apiError.ErrorCode() == "NoSuchBucket" && !createdBucket {
			logging.ExtractLogger(ctx).Info().Str("bucket", bucket).Msg("Creating assets bucket")
			_, err := s.CreateBucket(ctx, &s3.CreateBucketInput{
				Bucket: &bucket,
			})
			if err != nil {
				return oops.New(err, "failed to create assets bucket")
			}
			createdBucket = true
			continue
		}

		if !isRetryable(err) || int(b.Attempt())+1 >= maxUploadAttempts {
			return oops.New(err, "failed to upload asset")
		}

		wait := b.Duration()
		logging.ExtractLogger(ctx).Warn().Err(err).Str("key", key).Dur("wait", wait).Msg("Asset upload failed, retrying")
		select {
		case <-ctx.Done():
			return oops.New(ctx.Err(), "gave up uploading asset")
		case <-time.After(wait):
		}
	}
}

// Reads an object back from the configured bucket.
func Fetch(ctx context.Context, key string) ([]byte, error) {
	bucket := config.Config.S3.Bucket
	out, err := getStore().GetObject(ctx, &s3.GetObjectInput{
		Bucket: &bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, oops.New(err, "failed to fetch asset %s", key)
	}
	defer out.Body.Close()

	content, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, oops.New(err, "failed to read asset %s", key)
	}
	return content, nil
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var withStatus interface{ HTTPStatusCode() int }
	if errors.As(err, &withStatus) {
		return withStatus.HTTPStatusCode() >= 500
	}
	return true
}

func Get(ctx context.Context, dbConn db.ConnOrTx, id uuid.UUID) (*models.Asset, error) {
	asset, err := db.QueryOne[models.Asset](ctx, dbConn,
		`
		SELECT $columns
		FROM asset
		WHERE id = $1
		`,
		id,
	)
	if err != nil {
		if errors.Is(err, db.NotFound) {
			return nil, err
		}
		return nil, oops.New(err, "failed to fetch asset")
	}
	return asset, nil
}
