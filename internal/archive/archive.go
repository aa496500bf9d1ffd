// Package archive uploads project reports to S3.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/compliancy"
	"github.com/complyio/complyio/internal/config"
)

const defaultRegion = "eu-west-1"

// S3Archiver stores every project report as a JSON object.
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader s3manageriface.UploaderAPI
	logger   hclog.Logger
}

// New creates an archiver for the archive section of cfg. It returns nil
// when no bucket is configured.
func New(cfg *config.Config, logger hclog.Logger) (*S3Archiver, error) {
	if cfg == nil || cfg.Archive.Bucket == "" {
		return nil, nil
	}
	region := config.SetThen(cfg.Archive.Region, defaultRegion)
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}
	return newArchiver(cfg.Archive.Bucket, cfg.Archive.Prefix, s3manager.NewUploader(sess), logger), nil
}

func newArchiver(bucket, prefix string, uploader s3manageriface.UploaderAPI, logger hclog.Logger) *S3Archiver {
	return &S3Archiver{bucket: bucket, prefix: strings.Trim(prefix, "/"), uploader: uploader, logger: logger}
}

// Key returns the object key of a report:
// <prefix>/<organization>/<projectId>/<date>/<scanId>.json
func (a *S3Archiver) Key(report *compliancy.ProjectReport) string {
	scanID := strings.ReplaceAll(report.ScanID, ":", "_")
	return path.Join(a.prefix, strings.ToLower(report.Organization), report.ProjectID, report.ScannedAt.UTC().Format("2006-01-02"), scanID+".json")
}

// Archive uploads report.
func (a *S3Archiver) Archive(ctx context.Context, report *compliancy.ProjectReport) error {
	body, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	key := a.Key(report)
	_, err = a.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload report to s3://%s/%s: %w", a.bucket, key, err)
	}
	a.logger.Debug("archived report", "bucket", a.bucket, "key", key)
	return nil
}
