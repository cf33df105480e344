// Package redis provides a Redis client component built on go-redis with
// meshkit logging, connection pooling and lifecycle support.
//
// The refresh bus uses it for publish/subscribe:
//
//	comp := redis.NewComponent(redis.Config{Addr: "localhost:6379"}, log)
//	_ = comp.Start(ctx)
//	n, err := comp.Client().Publish(ctx, "meshkit:refresh:orders", payload)
package redis
