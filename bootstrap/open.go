package bootstrap

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/cocodrino/couch-ar/store"
	"github.com/cocodrino/couch-ar/store/memstore"
	"github.com/cocodrino/couch-ar/store/sqlstore"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Open builds the adapter selected by cfg.Backend. The returned Closer
// releases its connections.
func Open(ctx context.Context, cfg Config) (store.Adapter, io.Closer, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	switch cfg.Backend {
	case BackendDynamoDB:
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("load aws config: %w", err)
		}
		client := dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
			if cfg.DSN != "" {
				o.BaseEndpoint = aws.String(cfg.DSN)
			}
		})
		storeCfg := store.DefaultConfig()
		storeCfg.Table = cfg.DBName
		storeCfg.NumShards = cfg.NumShards
		storeCfg.IDScheme = cfg.IDScheme
		return store.New(client, storeCfg), nopCloser{}, nil

	case BackendSQLite:
		s, err := sqlstore.OpenSQLite(cfg.DSN, cfg.DBName, cfg.IDScheme)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case BackendPostgres:
		s, err := sqlstore.OpenPostgres(ctx, cfg.DSN, cfg.DBName, cfg.IDScheme)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	default:
		return memstore.New(cfg.IDScheme), nopCloser{}, nil
	}
}
