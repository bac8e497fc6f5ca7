package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/fieldperm/pkg/rbac"
)

// Cache key prefixes written by the API layer. A permission change on a
// resource makes each of these stale.
const (
	ProjectPermissionsPrefix = "ps-project_permissions-"
	ProjectOwnerPrefix       = "ps-project_owner-"
	ProjectTeamUsersPrefix   = "ps-project-team-users"
	XFormPermissionsPrefix   = "xfs-get_xform_permissions"
	OrganizationPrefix       = "org-profile-"
)

// Options configures the Redis connection
type Options struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// RedisInvalidator deletes cached permission views from Redis whenever a
// role assignment or removal changes the grants on a resource
type RedisInvalidator struct {
	client *redis.Client
}

var _ rbac.Invalidator = (*RedisInvalidator)(nil)

// NewRedisInvalidator connects to Redis and verifies the connection
func NewRedisInvalidator(opts Options) (*RedisInvalidator, error) {
	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if opts.Password != "" {
		redisOpts.Password = opts.Password
	}
	if opts.DB > 0 {
		redisOpts.DB = opts.DB
	}
	if opts.MaxRetries > 0 {
		redisOpts.MaxRetries = opts.MaxRetries
	}
	if opts.PoolSize > 0 {
		redisOpts.PoolSize = opts.PoolSize
	}

	redisOpts.DialTimeout = 5 * time.Second
	redisOpts.ReadTimeout = 3 * time.Second
	redisOpts.WriteTimeout = 3 * time.Second
	redisOpts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisInvalidator{client: client}, nil
}

// NewRedisInvalidatorFromClient wraps an existing client
func NewRedisInvalidatorFromClient(client *redis.Client) *RedisInvalidator {
	return &RedisInvalidator{client: client}
}

// Client returns the underlying Redis client
func (r *RedisInvalidator) Client() *redis.Client {
	return r.client
}

// Invalidate removes the cached views of resource. The principal does not
// narrow the purge since the cached views list every holder.
func (r *RedisInvalidator) Invalidate(ctx context.Context, principal rbac.Principal, resource rbac.Resource) error {
	keys := Keys(resource)
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// Keys lists the cache keys holding views of resource
func Keys(resource rbac.Resource) []string {
	id := strconv.FormatInt(resource.ID, 10)
	switch resource.Type {
	case rbac.ResourceProject:
		return []string{
			ProjectPermissionsPrefix + id,
			ProjectOwnerPrefix + id,
			ProjectTeamUsersPrefix + id,
		}
	case rbac.ResourceXForm, rbac.ResourceMergedXForm:
		return []string{XFormPermissionsPrefix + id}
	case rbac.ResourceOrganization:
		return []string{OrganizationPrefix + id}
	default:
		return nil
	}
}

// Close closes the Redis connection
func (r *RedisInvalidator) Close() error {
	return r.client.Close()
}
