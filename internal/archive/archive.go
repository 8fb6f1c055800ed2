// Package archive lands raw fetch results in S3 as partitioned Parquet
// files. The archive is a write-only audit trail alongside the relational
// store: re-running a window writes a new file, never overwrites one.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"macroflow/logger"
	"macroflow/models"
)

// Options selects the bucket and credentials. Empty credentials fall back to
// the ambient AWS credential chain.
type Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	PathStyle       bool
	AccessKeyID     string
	SecretAccessKey string
	Compression     string
	AppVersion      string
}

// row is the flattened archival schema. Every record kind maps onto
// (entity, attribute, value) so one Parquet schema covers all five fact
// families.
type row struct {
	Source    string  `parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind      string  `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Entity    string  `parquet:"name=entity, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventDate int64   `parquet:"name=event_date, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Attribute string  `parquet:"name=attribute, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value     float64 `parquet:"name=value, type=DOUBLE"`
	Revision  int32   `parquet:"name=revision, type=INT32"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile { return &memFile{buffer: &bytes.Buffer{}} }

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// Archiver uploads one Parquet file per (source, kind, date) batch.
type Archiver struct {
	opts     Options
	s3Client *s3.Client
	log      *logger.Log
}

func New(ctx context.Context, opts Options) (*Archiver, error) {
	if opts.Bucket == "" {
		return nil, fmt.Errorf("archive: bucket is required")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(opts.Region)}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		o.UsePathStyle = opts.PathStyle
	})

	return &Archiver{opts: opts, s3Client: client, log: logger.GetLogger()}, nil
}

// Archive flattens and uploads one fetched batch. Kinds are split into
// separate files so downstream table scans stay partition-pruned.
func (a *Archiver) Archive(ctx context.Context, sourceName string, records []models.Record) error {
	if len(records) == 0 {
		return nil
	}

	byKind := make(map[models.RecordKind][]row)
	for _, rec := range records {
		for _, r := range flatten(sourceName, rec) {
			byKind[rec.Kind()] = append(byKind[rec.Kind()], r)
		}
	}

	for kind, rows := range byKind {
		data, err := a.createParquet(rows)
		if err != nil {
			return fmt.Errorf("archive %s/%s: %w", sourceName, kind, err)
		}
		key := a.objectKey(sourceName, kind)
		if err := a.upload(ctx, key, data); err != nil {
			return fmt.Errorf("archive %s/%s: %w", sourceName, kind, err)
		}
		logger.IncrementArchiveWrite(int64(len(data)))
		a.log.WithComponent("archive").WithFields(logger.Fields{
			"source":    sourceName,
			"kind":      string(kind),
			"rows":      len(rows),
			"s3_key":    key,
			"file_size": len(data),
		}).Info("batch archived")
	}
	return nil
}

func flatten(sourceName string, rec models.Record) []row {
	switch r := rec.(type) {
	case models.MacroObservation:
		return []row{{Source: sourceName, Kind: string(rec.Kind()), Entity: r.SeriesCode, EventDate: r.ObservationDate.UnixMilli(), Attribute: "value", Value: r.Value, Revision: int32(r.Revision)}}
	case *models.MacroObservation:
		return flatten(sourceName, *r)
	case models.MarketBar:
		out := make([]row, 0, 5)
		for _, f := range []struct {
			attr  string
			value float64
		}{{"open", r.Open}, {"high", r.High}, {"low", r.Low}, {"close", r.Close}, {"volume", r.Volume}} {
			out = append(out, row{Source: sourceName, Kind: string(rec.Kind()), Entity: r.Ticker, EventDate: r.Date.UnixMilli(), Attribute: f.attr, Value: f.value})
		}
		return out
	case *models.MarketBar:
		return flatten(sourceName, *r)
	case models.CurvePoint:
		return []row{{Source: sourceName, Kind: string(rec.Kind()), Entity: r.CurveCode, EventDate: r.Date.UnixMilli(), Attribute: r.Tenor, Value: r.Rate}}
	case *models.CurvePoint:
		return flatten(sourceName, *r)
	case models.FlowPoint:
		return []row{{Source: sourceName, Kind: string(rec.Kind()), Entity: r.SeriesCode, EventDate: r.Date.UnixMilli(), Attribute: r.FlowType, Value: r.Value}}
	case *models.FlowPoint:
		return flatten(sourceName, *r)
	case models.FiscalMetric:
		return []row{{Source: sourceName, Kind: string(rec.Kind()), Entity: r.Country, EventDate: r.Date.UnixMilli(), Attribute: r.Metric, Value: r.Value}}
	case *models.FiscalMetric:
		return flatten(sourceName, *r)
	default:
		return nil
	}
}

func (a *Archiver) createParquet(rows []row) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(row), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}

	switch strings.ToLower(a.opts.Compression) {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, r := range rows {
		if err := pw.Write(r); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write parquet row: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet: %w", err)
	}
	return mem.Bytes(), nil
}

func (a *Archiver) objectKey(sourceName string, kind models.RecordKind) string {
	now := time.Now().UTC()
	filename := fmt.Sprintf("%s_%s.parquet", now.Format("20060102150405"), uuid.NewString())
	return path.Join(
		fmt.Sprintf("source=%s", strings.ToLower(sourceName)),
		fmt.Sprintf("kind=%s", string(kind)),
		fmt.Sprintf("date=%s", now.Format("2006-01-02")),
		filename,
	)
}

func (a *Archiver) upload(ctx context.Context, key string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	_, err := a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.opts.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":      "parquet",
			"compression":       a.opts.Compression,
			"macroflow-version": a.opts.AppVersion,
		},
	})
	if err != nil {
		return fmt.Errorf("upload parquet: %w", err)
	}
	return nil
}
