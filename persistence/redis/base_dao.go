package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	rd "github.com/go-redis/redis/v9"
	"github.com/mohitkumar/autoflow/persistence"
)

type baseDao struct {
	redisClient rd.UniversalClient
	namespace   string
}

func newBaseDao(conf Config) *baseDao {
	redisClient := rd.NewUniversalClient(&rd.UniversalOptions{
		Addrs:    conf.Addrs,
		Password: conf.Password,
		PoolSize: conf.PoolSize,
	})
	return &baseDao{
		redisClient: redisClient,
		namespace:   conf.Namespace,
	}
}

func (bs *baseDao) getNamespaceKey(args ...string) string {
	return fmt.Sprintf("%s:%s", bs.namespace, strings.Join(args, ":"))
}

func (bs *baseDao) Ping(ctx context.Context) error {
	if err := bs.redisClient.Ping(ctx).Err(); err != nil {
		return persistence.StorageLayerError{Message: err.Error()}
	}
	return nil
}

func (bs *baseDao) Close() error {
	return bs.redisClient.Close()
}

// storageError keeps sentinel and storage errors intact and wraps the rest.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, persistence.ErrNotFound) || errors.Is(err, persistence.ErrClaimConflict) {
		return err
	}
	var sle persistence.StorageLayerError
	if errors.As(err, &sle) {
		return err
	}
	return persistence.StorageLayerError{Message: err.Error()}
}
